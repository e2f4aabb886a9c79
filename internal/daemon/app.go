// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon owns the process lifecycle: the HTTP listeners, the
// background loops and the ordered shutdown.
package daemon

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Task is a background loop that runs until its context is done.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// App runs the background tasks next to the Manager and stops them all
// when any of them fails.
type App struct {
	logger  zerolog.Logger
	manager Manager
	tasks   []Task
}

// NewApp creates a new App.
func NewApp(logger zerolog.Logger, manager Manager, tasks ...Task) *App {
	return &App{logger: logger, manager: manager, tasks: tasks}
}

// Run blocks until ctx is cancelled or a fatal error occurs. The manager's
// shutdown hooks have run when it returns.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, t := range a.tasks {
		g.Go(func() error {
			a.logger.Debug().Str("task", t.Name).Msg("background task started")
			err := t.Run(gctx)
			if err != nil && gctx.Err() == nil {
				a.logger.Error().
					Err(err).
					Str("event", "task.failed").
					Str("task", t.Name).
					Msg("background task failed")
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		err := a.manager.Start(gctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
