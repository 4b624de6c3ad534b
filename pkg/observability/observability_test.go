package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutEndpointIsNoop(t *testing.T) {
	m, err := New(context.Background(), Config{
		ServiceName: "avitofleet-test",
		WorkerID:    "worker_1",
	})
	require.NoError(t, err)

	ctx := context.Background()
	// All instruments must be usable without an exporter.
	m.TaskLeased(ctx)
	m.TaskCompleted(ctx, "SUCCESS", 3*time.Second)
	m.TaskReturned(ctx, "no_proxies")
	m.TaskErrored(ctx)
	m.ProxyLeased(ctx)
	m.ProxyBlocked(ctx, "403/407")
	m.ProxyReleased(ctx)
	m.CaptchaResolved(ctx, true)
	m.CaptchaResolved(ctx, false)
	m.CardsParsed(ctx, 12)

	assert.NoError(t, m.Shutdown(ctx))
}
