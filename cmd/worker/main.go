// The worker binary processes tasks from the shared queue until terminated.
// One worker owns at most one task, one proxy and one browser session at a
// time; the supervisor runs a fleet of these.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zamerlab/avitofleet/pkg/avito"
	"github.com/zamerlab/avitofleet/pkg/config"
	"github.com/zamerlab/avitofleet/pkg/observability"
	"github.com/zamerlab/avitofleet/pkg/store"
	"github.com/zamerlab/avitofleet/pkg/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, err := avito.OpenDriver(cfg.BrowserDriver)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, store.Options{
		DSN:              cfg.DSN(),
		PoolMinSize:      cfg.PoolMinSize,
		PoolMaxSize:      cfg.PoolMaxSize,
		StuckTaskTimeout: cfg.StuckTaskTimeout,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	metrics, err := observability.New(ctx, observability.Config{
		ServiceName:  "avitofleet-worker",
		WorkerID:     cfg.WorkerID,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", "error", err)
		}
	}()

	stopwords, err := config.LoadStopwords(cfg.StopwordsFile)
	if err != nil {
		return err
	}
	logger.Info("stopwords loaded", "count", len(stopwords), "file", cfg.StopwordsFile)

	w := worker.New(worker.Deps{
		Config:    cfg,
		Store:     st,
		Launcher:  driver.Launcher,
		Detector:  driver.Detector,
		Solver:    driver.Solver,
		Catalog:   driver.Catalog,
		Cards:     driver.Cards,
		Metrics:   metrics,
		Logger:    logger,
		Stopwords: stopwords,
	})
	return w.Run(ctx)
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler).With("component", "worker"))
}
