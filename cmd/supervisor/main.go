// The supervisor binary runs the worker fleet: NUM_WORKERS child processes,
// each with its own WORKER_ID and X display, respawned on crash and torn
// down on SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/zamerlab/avitofleet/pkg/config"
	"github.com/zamerlab/avitofleet/pkg/supervisor"
)

func main() {
	if err := run(); err != nil {
		slog.Error("supervisor failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bin, err := workerBinary(cfg)
	if err != nil {
		return err
	}

	s, err := supervisor.New(supervisor.Config{
		NumWorkers: cfg.NumWorkers,
		WorkerBin:  bin,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

// workerBinary resolves the worker executable: WORKER_BIN when set, else a
// "worker" binary next to the supervisor itself.
func workerBinary(cfg *config.Config) (string, error) {
	if cfg.WorkerBin != "" {
		return cfg.WorkerBin, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	bin := filepath.Join(filepath.Dir(self), "worker")
	if _, err := exec.LookPath(bin); err != nil {
		return "", err
	}
	return bin, nil
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
	slog.SetDefault(slog.New(handler).With("component", "supervisor"))
}
