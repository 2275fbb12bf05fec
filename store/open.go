// Package store picks a ledger.Store implementation from configuration.
package store

import (
	"fmt"

	"github.com/campusengage/points-engine/config"
	"github.com/campusengage/points-engine/ledger"
	"github.com/campusengage/points-engine/store/postgres"
	"github.com/campusengage/points-engine/store/sqlite"
)

// Open returns a migrated store for cfg.Driver.
func Open(cfg config.DatabaseConfig) (ledger.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.New(cfg.Path)
	case "postgres":
		iso, err := cfg.IsolationLevel()
		if err != nil {
			return nil, err
		}
		return postgres.Open(cfg.DSN(), postgres.Options{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			Isolation:       iso,
		})
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}
