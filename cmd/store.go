package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/store"
)

// initStore opens and migrates the configured backend.
func initStore(ctx context.Context) (store.Backend, error) {
	return openStore(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.KeySchema)
}

func openStore(ctx context.Context, driver, dsn, keySchema string) (store.Backend, error) {
	schema, err := model.ParseKeySchema(keySchema)
	if err != nil {
		return nil, err
	}

	var b store.Backend
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = "thotem.db"
		}
		b, err = store.NewSQLite(dsn, schema)
	case "postgres":
		var poolCfg *store.PoolConfig
		if cfg != nil {
			poolCfg = &store.PoolConfig{MaxConns: cfg.Store.MaxConns, MinConns: cfg.Store.MinConns}
		}
		b, err = store.NewPostgres(ctx, dsn, schema, poolCfg)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := b.Migrate(ctx); err != nil {
		_ = b.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return b, nil
}
