// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ManuGH/segsplit/internal/api"
	"github.com/ManuGH/segsplit/internal/config"
	"github.com/ManuGH/segsplit/internal/daemon"
	"github.com/ManuGH/segsplit/internal/health"
	"github.com/ManuGH/segsplit/internal/janitor"
	"github.com/ManuGH/segsplit/internal/jobs"
	xglog "github.com/ManuGH/segsplit/internal/log"
	"github.com/ManuGH/segsplit/internal/orchestrator"
	"github.com/ManuGH/segsplit/internal/platform/paths"
	"github.com/ManuGH/segsplit/internal/telemetry"
	"github.com/ManuGH/segsplit/internal/transcode"
	"github.com/ManuGH/segsplit/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultRegistryGCInterval = time.Minute

// runtime is the fully wired process.
type runtime struct {
	cfg     config.AppConfig
	app     *daemon.App
	manager daemon.Manager
	orch    *orchestrator.Orchestrator
	janitor *janitor.Janitor
}

func build(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.NewLoader(configPath, version.Version).Load()
	if err != nil {
		return nil, err
	}

	xglog.Reconfigure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "segsplit",
		Version: version.Version,
	})

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "segsplit",
		ServiceVersion: version.Version,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	if err := os.MkdirAll(cfg.TempDir, 0o750); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	layout := paths.Layout{Root: cfg.TempDir}

	registry := jobs.NewRegistry(jobs.WithLogger(xglog.WithComponent("jobs")))

	supervisor := transcode.NewSupervisor(transcode.Config{
		FFmpegBin:    cfg.FFmpeg.Bin,
		StartTimeout: cfg.FFmpeg.StartTimeout,
		StallTimeout: cfg.FFmpeg.StallTimeout,
		KillGrace:    cfg.FFmpeg.KillGrace,
	}, transcode.FFprobe{Bin: cfg.FFmpeg.FFprobeBin}, xglog.WithComponent("transcode"))

	// The janitor asks the orchestrator which jobs are still running.
	var orch *orchestrator.Orchestrator
	jan := janitor.New(janitor.Config{
		Root:     cfg.TempDir,
		TTL:      cfg.Cleanup.TTL,
		Interval: cfg.Cleanup.Interval,
		MaxBytes: cfg.Cleanup.MaxBytes,
	},
		janitor.WithLogger(xglog.WithComponent("janitor")),
		janitor.WithInUse(func(id string) bool { return orch.Active(id) }),
	)

	orch = orchestrator.New(orchestrator.Config{
		FallbackEnabled:       cfg.Split.FallbackEnabled,
		DefaultSegmentSeconds: cfg.Split.DefaultSegmentSeconds,
		MaxSegmentSeconds:     cfg.Split.MaxSegmentSeconds,
		PreciseFPS:            cfg.Split.PreciseFPS,
	}, registry, supervisor, jan, layout,
		orchestrator.WithLogger(xglog.WithComponent("orchestrator")),
		orchestrator.WithTracer(telemetry.Tracer("segsplit/orchestrator")),
	)

	hm := health.NewManager(version.Version, xglog.WithComponent("health"))
	hm.RegisterChecker(health.NewWritableDirChecker("temp_dir", cfg.TempDir))
	hm.RegisterChecker(health.NewBinaryChecker("ffmpeg", cfg.FFmpeg.Bin, false))
	// Without ffprobe jobs still run, only progress stays coarse.
	hm.RegisterChecker(health.NewBinaryChecker("ffprobe", cfg.FFmpeg.FFprobeBin, true))

	srv := api.New(api.Deps{
		Config:   cfg,
		Registry: registry,
		Jobs:     orch,
		Storage:  jan,
		Health:   hm,
		Logger:   xglog.WithComponent("api"),
	})

	deps := daemon.Deps{
		Logger:     xglog.WithComponent("daemon"),
		ListenAddr: cfg.ListenAddr,
		APIHandler: srv.Handler(),
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		deps.MetricsAddr = cfg.Metrics.Addr
		deps.MetricsHandler = mux
	}
	mgr, err := daemon.NewManager(deps)
	if err != nil {
		return nil, err
	}

	// Hooks run in reverse: jobs first, then pending deletions, then spans.
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("janitor", func(context.Context) error {
		jan.Stop()
		return nil
	})
	mgr.RegisterShutdownHook("orchestrator", orch.Shutdown)

	gcInterval := cfg.Cleanup.Interval
	if gcInterval <= 0 {
		gcInterval = defaultRegistryGCInterval
	}
	app := daemon.NewApp(xglog.WithComponent("daemon"), mgr,
		daemon.Task{Name: "janitor", Run: jan.Run},
		daemon.Task{Name: "registry-gc", Run: func(ctx context.Context) error {
			return registry.Run(ctx, gcInterval, cfg.Cleanup.JobRetention)
		}},
	)

	return &runtime{cfg: cfg, app: app, manager: mgr, orch: orch, janitor: jan}, nil
}
