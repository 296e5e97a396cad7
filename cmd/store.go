package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mobility-cli/internal/fetcher"
	"github.com/sells-group/mobility-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "mobility.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, int32(cfg.Store.MaxConns))
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:        time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:     cfg.Fetch.MaxRetries,
		RequestsPerSec: cfg.Fetch.RequestsPerSec,
		UserAgent:      cfg.Fetch.UserAgent,
	})
}
