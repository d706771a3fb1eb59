package main

import (
	"context"
	"fmt"
	"log/slog"

	"roadscan/internal/adapters/postgres"
	"roadscan/internal/adapters/sqlite"
	"roadscan/internal/config"
	"roadscan/internal/ports"
)

// store is a detection repository that can also answer image reference
// lookups for the sweeper.
type store interface {
	ports.DetectionRepository
	ports.ImageReferences
}

// openStore opens the configured store with its schema up to date.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("detection store ready", "driver", cfg.StoreDriver)
		return db, db.Close, nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath, log.With("component", "sqlite"))
		if err != nil {
			return nil, nil, err
		}
		log.Info("detection store ready", "driver", cfg.StoreDriver, "path", cfg.SQLitePath)
		return db, func() { db.Close() }, nil
	}
}
