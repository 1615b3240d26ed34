package cmd

import (
	"context"
	"fmt"

	"github.com/papapumpkin/magnetar/internal/backend"
	"github.com/papapumpkin/magnetar/internal/config"
	"github.com/papapumpkin/magnetar/internal/store"
	"github.com/papapumpkin/magnetar/internal/telemetry"
)

// env bundles the collaborators a command runs against: the graph
// store, the local backend, the telemetry emitter, and the loaded
// fixture (if any).
type env struct {
	cfg     config.Config
	store   *store.SQLite
	backend *backend.Local
	tele    *telemetry.Emitter
	fixture *store.Fixture
}

// openEnv loads configuration, opens the store, seeds it from the
// configured fixture, and wires telemetry.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, store: db, backend: backend.NewLocal()}

	if cfg.FixturePath != "" {
		f, err := store.LoadFixture(cfg.FixturePath)
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := f.Apply(ctx, db, e.backend); err != nil {
			db.Close()
			return nil, err
		}
		e.fixture = f
	}

	if cfg.TelemetryPath != "" {
		em, err := telemetry.NewEmitter(cfg.TelemetryPath)
		if err != nil {
			db.Close()
			return nil, err
		}
		e.tele = em
	}
	return e, nil
}

func (e *env) close() {
	_ = e.tele.Close()
	_ = e.store.Close()
}
