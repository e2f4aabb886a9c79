// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	xglog "github.com/ManuGH/segsplit/internal/log"
	"github.com/ManuGH/segsplit/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, strings.TrimSpace(*configPath)); err != nil {
		logger := xglog.WithComponent("daemon")
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	rt, err := build(ctx, configPath)
	if err != nil {
		return err
	}
	logger := xglog.WithComponent("daemon")
	logger.Info().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("listen", rt.cfg.ListenAddr).
		Str("temp_dir", rt.cfg.TempDir).
		Msg("starting segsplit")

	return rt.app.Run(ctx)
}
