// hostwatchd is the host metrics collection daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtxerr/hostwatch/internal/charts"
	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/logging"
	"github.com/xtxerr/hostwatch/internal/sampler"
	"github.com/xtxerr/hostwatch/internal/storage"
	"github.com/xtxerr/hostwatch/internal/storage/config"
	"github.com/xtxerr/hostwatch/internal/storage/query"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	interval := flag.Duration("interval", 0, "sampling interval (overrides config)")
	syncMode := flag.String("sync", "", "partition sync mode: async, sync, fsync (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	renderCharts := flag.Bool("charts", false, "render a daily usage chart artifact")
	flag.Parse()

	logging.Init(parseLevel(*logLevel), *logJSON)
	log := logging.Component("main")
	log.Info("hostwatchd starting", "version", Version)

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info("no config file found, using defaults")
			cfg = config.DefaultConfig()
		} else {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *interval > 0 {
		cfg.Sampling.Interval = *interval
	}
	if *syncMode != "" {
		cfg.Partition.SyncMode = *syncMode
	}

	svc, err := storage.New(cfg)
	if err != nil {
		log.Error("create storage", "error", err)
		os.Exit(1)
	}
	if err := svc.Start(); err != nil {
		log.Error("start storage", "error", err)
		os.Exit(1)
	}

	log.Info("storage started",
		"data_dir", cfg.DataDir,
		"interval", cfg.Sampling.Interval,
		"sync_mode", cfg.Partition.SyncMode,
		"retention_weeks", cfg.Retention.Weeks)

	ctx, cancel := context.WithCancel(context.Background())

	// Signal handling
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info("shutting down", "signal", s.String())
		cancel()
	}()

	var renderer *charts.Renderer
	if *renderCharts {
		renderer, err = charts.NewRenderer(cfg.ChartsDir())
		if err != nil {
			log.Error("create chart renderer", "error", err)
			os.Exit(1)
		}
		go chartWorker(ctx, svc, renderer)
	}

	runSampler(ctx, svc, cfg, log)

	if err := svc.Stop(); err != nil {
		log.Warn("storage stop", "error", err)
	}
	log.Info("hostwatchd stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runSampler drives the collection loop until ctx is cancelled.
func runSampler(ctx context.Context, svc *storage.Service, cfg *config.Config, log *slog.Logger) {
	s := sampler.NewSystemSampler()

	ticker := time.NewTicker(cfg.Sampling.Interval)
	defer ticker.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sample, err := s.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveFailures++
			log.Warn("sample collection failed", "error", err, "consecutive", consecutiveFailures)
			continue
		}

		if err := svc.Append(sample); err != nil {
			// Clock steps backwards produce out-of-order timestamps; skip
			// the sample and keep collecting.
			if errors.IsValidation(err) {
				log.Warn("sample rejected", "error", err)
				continue
			}
			// A broken store does not heal by retrying every tick.
			if errors.IsStorage(err) {
				log.Error("storage failed, shutting down", "error", err)
				return
			}
			consecutiveFailures++
			log.Error("append failed", "error", err, "consecutive", consecutiveFailures)
			continue
		}
		consecutiveFailures = 0
	}
}

// chartWorker renders a usage chart of the last day once per hour.
func chartWorker(ctx context.Context, svc *storage.Service, renderer *charts.Renderer) {
	log := logging.Component("main")

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		samples, err := svc.Samples(ctx, query.Request{
			Window: types.Window{Count: 1, Unit: types.UnitDay},
		})
		if err != nil || len(samples) == 0 {
			continue
		}

		day := time.Now().UTC().Format("2006-01-02")
		name := fmt.Sprintf("usage_%s", day)
		if _, err := renderer.Render(name, "Host usage "+day, samples); err != nil {
			log.Warn("chart render failed", "error", err)
		}
	}
}
