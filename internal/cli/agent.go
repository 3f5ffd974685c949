package cli

import (
	"fmt"

	"github.com/harun/atlas/internal/config"
	"github.com/harun/atlas/internal/daemon"
	"github.com/harun/atlas/internal/observability"
	"github.com/harun/atlas/pkg/agent"
	"github.com/rs/zerolog/log"
)

// localAgent builds the configured agent in-process for one-shot commands.
// The returned close func releases the task store.
func localAgent(root *rootOptions) (*agent.Agent, func() error, error) {
	cfg, err := root.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return buildLocalAgent(cfg)
}

func buildLocalAgent(cfg *config.Config) (*agent.Agent, func() error, error) {
	l, err := setupLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if path := cfg.Telemetry.AuditLog; path != "" {
		if err := observability.InitAuditLogger(path); err != nil {
			l.Close()
			return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}
	release := func() {
		if cfg.Telemetry.AuditLog != "" {
			_ = observability.GetAuditLogger().Close()
			observability.SetAuditLogger(nil)
		}
		l.Close()
	}

	store, err := daemon.OpenStore(cfg.Store)
	if err != nil {
		release()
		return nil, nil, err
	}

	a, err := daemon.BuildAgent(cfg, store, log.Logger)
	if err != nil {
		store.Close()
		release()
		return nil, nil, err
	}

	closeFn := func() error {
		err := store.Close()
		release()
		return err
	}
	return a, closeFn, nil
}

