package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricewatch/internal/naver"
	"github.com/sells-group/pricewatch/internal/store"
	"github.com/sells-group/pricewatch/internal/track"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "pricewatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initService builds the tracking service over a migrated store and the
// live search client. The caller owns the returned store's lifetime.
func initService(ctx context.Context) (*track.Service, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}

	client := naver.New(naver.Options{
		ClientID:     cfg.Naver.ClientID,
		ClientSecret: cfg.Naver.ClientSecret,
		BaseURL:      cfg.Naver.BaseURL,
		Timeout:      time.Duration(cfg.Naver.TimeoutSecs) * time.Second,
		RatePerSec:   cfg.Naver.RatePerSec,
	})

	return track.NewService(st, client, cfg.Collect.DefaultCategory), st, nil
}
