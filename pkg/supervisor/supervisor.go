// Package supervisor runs and babysits the fleet of worker processes. Each
// worker is a separate OS process with its own WORKER_ID and X display;
// crashed workers are respawned after a short delay, and shutdown follows
// the SIGTERM, wait, SIGKILL escalation.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Displays start at :99, the conventional first Xvfb display.
const displayBase = 99

// maxRecommendedWorkers is a sanity bound, not a hard limit. Past it the
// host is usually oversubscribed on browser memory.
const maxRecommendedWorkers = 50

// Config configures the supervisor.
type Config struct {
	NumWorkers int
	WorkerBin  string
	WorkerArgs []string
	Logger     *slog.Logger

	// Tunables with production defaults; tests shrink them.
	PollInterval time.Duration
	RespawnDelay time.Duration
	TermTimeout  time.Duration
	KillTimeout  time.Duration
}

func (c *Config) fillDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.RespawnDelay <= 0 {
		c.RespawnDelay = 2 * time.Second
	}
	if c.TermTimeout <= 0 {
		c.TermTimeout = 30 * time.Second
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = 5 * time.Second
	}
}

// child is one supervised worker process.
type child struct {
	id  int
	cmd *exec.Cmd

	exited  chan struct{}
	exitErr error

	respawnAt time.Time
}

func (c *child) running() bool {
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// Supervisor owns the worker process table. All child-table access happens
// on the Run goroutine; the mutex only guards the waiter goroutines writing
// exitErr.
type Supervisor struct {
	cfg      Config
	logger   *slog.Logger
	mu       sync.Mutex
	children map[int]*child
	restarts int
}

func New(cfg Config) (*Supervisor, error) {
	if cfg.NumWorkers < 1 {
		return nil, fmt.Errorf("num workers must be positive, got %d", cfg.NumWorkers)
	}
	if cfg.WorkerBin == "" {
		return nil, fmt.Errorf("worker binary not configured")
	}
	cfg.fillDefaults()

	return &Supervisor{
		cfg:      cfg,
		logger:   cfg.Logger,
		children: make(map[int]*child, cfg.NumWorkers),
	}, nil
}

// Run spawns the fleet and keeps it at full strength until ctx is
// cancelled, then tears every worker down.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.NumWorkers > maxRecommendedWorkers {
		s.logger.Warn("worker count above recommended maximum",
			"num_workers", s.cfg.NumWorkers, "recommended_max", maxRecommendedWorkers)
	}
	s.logger.Info("supervisor starting", "num_workers", s.cfg.NumWorkers, "worker_bin", s.cfg.WorkerBin)

	for id := 1; id <= s.cfg.NumWorkers; id++ {
		if err := s.spawn(id); err != nil {
			s.logger.Error("initial spawn failed", "worker", id, "error", err)
			s.children[id] = &child{
				id:        id,
				exited:    closedChan(),
				respawnAt: time.Now().Add(s.cfg.RespawnDelay),
			}
		}
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.reapAndRespawn()
		}
	}
}

// Restarts reports how many respawns have happened so far.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *Supervisor) spawn(id int) error {
	cmd := exec.Command(s.cfg.WorkerBin, s.cfg.WorkerArgs...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("WORKER_ID=worker_%d", id),
		fmt.Sprintf("DISPLAY=:%d", displayBase+id-1),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Own process group, so a terminal SIGINT reaches only the supervisor
	// and workers go through the orderly SIGTERM path.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker %d: %w", id, err)
	}

	c := &child{id: id, cmd: cmd, exited: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		c.exitErr = err
		s.mu.Unlock()
		close(c.exited)
	}()

	s.children[id] = c
	s.logger.Info("worker started", "worker", id, "pid", cmd.Process.Pid,
		"display", fmt.Sprintf(":%d", displayBase+id-1))
	return nil
}

// reapAndRespawn notices exited children and brings them back after the
// respawn delay.
func (s *Supervisor) reapAndRespawn() {
	now := time.Now()
	for id, c := range s.children {
		if c.running() {
			continue
		}
		if c.respawnAt.IsZero() {
			s.mu.Lock()
			exitErr := c.exitErr
			s.mu.Unlock()
			s.logger.Warn("worker exited", "worker", id, "error", exitErr)
			c.respawnAt = now.Add(s.cfg.RespawnDelay)
			continue
		}
		if now.Before(c.respawnAt) {
			continue
		}
		if err := s.spawn(id); err != nil {
			s.logger.Error("respawn failed", "worker", id, "error", err)
			c.respawnAt = now.Add(s.cfg.RespawnDelay)
			continue
		}
		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
	}
}

// shutdown terminates the fleet: SIGTERM, a grace window, SIGKILL for the
// stragglers, and a final warning for anything that survived even that.
func (s *Supervisor) shutdown() {
	s.logger.Info("supervisor shutting down")

	for id, c := range s.children {
		if !c.running() {
			continue
		}
		if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Warn("sigterm failed", "worker", id, "error", err)
		}
	}

	if s.waitAll(s.cfg.TermTimeout) {
		s.logger.Info("all workers exited cleanly")
		return
	}

	for id, c := range s.children {
		if !c.running() {
			continue
		}
		s.logger.Warn("worker ignored SIGTERM, killing", "worker", id, "pid", c.cmd.Process.Pid)
		if err := c.cmd.Process.Kill(); err != nil {
			s.logger.Error("sigkill failed", "worker", id, "error", err)
		}
	}

	if s.waitAll(s.cfg.KillTimeout) {
		return
	}
	for id, c := range s.children {
		if c.running() {
			s.logger.Error("worker did not die, possible zombie",
				"worker", id, "pid", c.cmd.Process.Pid)
		}
	}
}

// waitAll blocks until every child exited or the timeout passed.
func (s *Supervisor) waitAll(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for _, c := range s.children {
		if c.cmd == nil {
			continue
		}
		select {
		case <-c.exited:
		case <-deadline.C:
			return false
		}
	}
	return true
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
