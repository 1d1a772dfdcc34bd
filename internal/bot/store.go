package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/config"
	"github.com/rovshanmuradov/katz-bot/internal/storage"
	"github.com/rovshanmuradov/katz-bot/internal/storage/mongostore"
	"github.com/rovshanmuradov/katz-bot/internal/storage/postgres"
	"github.com/rovshanmuradov/katz-bot/internal/storage/sqlite"
)

// openStore connects the metrics store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.MetricsStore, error) {
	var (
		store storage.MetricsStore
		err   error
	)
	switch cfg.Driver {
	case config.DriverMemory, "":
		return storage.NewMemory(), nil
	case config.DriverSQLite:
		var s *sqlite.Store
		if s, err = sqlite.Open(cfg.DSN, logger); err == nil {
			store = s
		}
	case config.DriverPostgres:
		var s *postgres.Store
		if s, err = postgres.NewStore(cfg.DSN, logger); err == nil {
			store = s
		}
	case config.DriverMongo:
		var s *mongostore.Store
		if s, err = mongostore.Connect(ctx, cfg.DSN, cfg.Database, logger); err == nil {
			store = s
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
