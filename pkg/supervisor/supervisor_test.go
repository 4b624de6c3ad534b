package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(bin string, args ...string) Config {
	return Config{
		NumWorkers:   2,
		WorkerBin:    bin,
		WorkerArgs:   args,
		PollInterval: 20 * time.Millisecond,
		RespawnDelay: 20 * time.Millisecond,
		TermTimeout:  2 * time.Second,
		KillTimeout:  time.Second,
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{NumWorkers: 0, WorkerBin: "/bin/true"})
	require.Error(t, err)

	_, err = New(Config{NumWorkers: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker binary")
}

func TestRespawnsExitedWorkers(t *testing.T) {
	s, err := New(fastConfig("/bin/sh", "-c", "exit 0"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return s.Restarts() > 0
	}, 5*time.Second, 20*time.Millisecond, "exited workers were not respawned")

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestShutdownTerminatesWorkers(t *testing.T) {
	s, err := New(fastConfig("/bin/sleep", "60"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	// Let the children actually start before pulling the plug.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not terminate its workers")
	}

	for id, c := range s.children {
		assert.False(t, c.running(), "worker %d still running", id)
	}
}

func TestWorkersGetIdentityEnv(t *testing.T) {
	dir := t.TempDir()
	script := fmt.Sprintf(`env > %s/$WORKER_ID; sleep 30`, dir)

	s, err := New(fastConfig("/bin/sh", "-c", script))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		for i := 1; i <= 2; i++ {
			if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("worker_%d", i))); err != nil {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done

	for i := 1; i <= 2; i++ {
		data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("worker_%d", i)))
		require.NoError(t, err)
		env := string(data)
		assert.Contains(t, env, fmt.Sprintf("WORKER_ID=worker_%d", i))
		assert.True(t, strings.Contains(env, fmt.Sprintf("DISPLAY=:%d", 99+i-1)),
			"worker %d env missing display: %s", i, env)
	}
}
