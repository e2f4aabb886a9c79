// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ManuGH/segsplit/internal/config"
	"github.com/ManuGH/segsplit/internal/version"
	"gopkg.in/yaml.v3"
)

func runConfigCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage()
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:])
	case "dump":
		return runConfigDump(args[1:], os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage()
		return 2
	}
}

func printConfigUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  segsplit config validate --file|-f config.yaml")
	fmt.Fprintln(os.Stderr, "  segsplit config dump [--file|-f config.yaml] [--format=yaml|json]")
}

func runConfigValidate(args []string) int {
	fs := flag.NewFlagSet("segsplit config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath := strings.TrimSpace(file)
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --file is required")
		return 2
	}

	if _, err := config.NewLoader(configPath, version.Version).Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}

	fmt.Printf("%s is valid\n", configPath)
	return 0
}

// runConfigDump prints the effective configuration (defaults, file, env)
// in the file format.
func runConfigDump(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("segsplit config dump", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var file string
	var format string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.StringVar(&format, "format", "yaml", "output format: yaml or json")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.NewLoader(strings.TrimSpace(file), version.Version).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error:\n  %v\n", err)
		return 1
	}
	fileCfg := fileConfigFromAppConfig(cfg)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(fileCfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode YAML: %v\n", err)
			return 1
		}
		_ = enc.Close()
		return 0
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fileCfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unsupported format: %s (use yaml or json)\n", format)
		return 2
	}
}

// fileConfigFromAppConfig converts back to the file shape. Secrets are
// redacted.
func fileConfigFromAppConfig(cfg config.AppConfig) config.FileConfig {
	split := cfg.Split
	cleanup := cfg.Cleanup
	rl := cfg.RateLimit
	tel := cfg.Telemetry

	token := ""
	if cfg.AdminToken != "" {
		token = "***"
	}

	return config.FileConfig{
		LogLevel:   cfg.LogLevel,
		ListenAddr: cfg.ListenAddr,
		TempDir:    cfg.TempDir,
		AdminToken: token,
		FFmpeg: &config.FFmpegFile{
			Bin:          cfg.FFmpeg.Bin,
			FFprobeBin:   cfg.FFmpeg.FFprobeBin,
			StartTimeout: cfg.FFmpeg.StartTimeout.String(),
			StallTimeout: cfg.FFmpeg.StallTimeout.String(),
			KillGrace:    cfg.FFmpeg.KillGrace.String(),
		},
		Split: &config.SplitFile{
			DefaultSegmentSeconds: &split.DefaultSegmentSeconds,
			MaxSegmentSeconds:     &split.MaxSegmentSeconds,
			FallbackEnabled:       &split.FallbackEnabled,
			PreciseFPS:            &split.PreciseFPS,
			MaxUploadBytes:        &split.MaxUploadBytes,
		},
		Cleanup: &config.CleanupFile{
			TTL:          cleanup.TTL.String(),
			Interval:     cleanup.Interval.String(),
			MaxBytes:     &cleanup.MaxBytes,
			JobRetention: cleanup.JobRetention.String(),
		},
		RateLimit: &config.RateLimitFile{
			Enabled: &rl.Enabled,
			RPS:     &rl.RPS,
			Burst:   &rl.Burst,
		},
		Metrics: &config.MetricsFile{
			Enabled: &cfg.Metrics.Enabled,
			Addr:    cfg.Metrics.Addr,
		},
		Telemetry: &config.TelemetryFile{
			Enabled:      &tel.Enabled,
			ExporterType: tel.ExporterType,
			Endpoint:     tel.Endpoint,
			SamplingRate: &tel.SamplingRate,
		},
	}
}
