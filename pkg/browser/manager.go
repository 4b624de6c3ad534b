package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zamerlab/avitofleet/pkg/avito"
)

// Manager launches and tears down browser sessions through the injected
// launcher. One session is bound to exactly one proxy; crossing proxies
// always goes through Teardown plus a fresh Launch.
type Manager struct {
	launcher avito.Launcher
	logger   *slog.Logger
}

func NewManager(launcher avito.Launcher, logger *slog.Logger) *Manager {
	return &Manager{launcher: launcher, logger: logger}
}

// Launch parses the proxy row and starts a session bound to it.
func (m *Manager) Launch(ctx context.Context, proxyAddress string) (avito.Session, error) {
	cfg, err := ParseProxyAddress(proxyAddress)
	if err != nil {
		return nil, err
	}

	m.logger.Info("launching browser", "proxy", Redact(proxyAddress))

	session, err := m.launcher.Launch(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return session, nil
}

// Teardown closes a session. Close errors are logged, not propagated: the
// callers are recovery paths that must keep going regardless.
func (m *Manager) Teardown(ctx context.Context, session avito.Session) {
	if session == nil {
		return
	}
	if err := session.Close(ctx); err != nil {
		m.logger.Error("browser teardown", "error", err)
	}
}
