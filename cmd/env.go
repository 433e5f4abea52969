package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/resilience"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/store"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/syncer"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/wrangler"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/pkg/dsa"
)

// wranglerEnv holds the initialized store, archive client, and record
// store needed by most commands.
type wranglerEnv struct {
	Store    store.Store
	Client   dsa.Client
	Wrangler *wrangler.Wrangler
}

// Close releases resources held by the environment.
func (we *wranglerEnv) Close() {
	if we.Store != nil {
		_ = we.Store.Close()
	}
}

// initStore opens the configured snapshot backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "init postgres store")
		}
		return st, nil
	case "sqlite", "":
		st, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, eris.Wrap(err, "init sqlite store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initClient builds the archive client from config. Returns nil when no
// API URL is configured; commands that need the archive check for that.
func initClient() dsa.Client {
	if cfg.DSA.APIURL == "" {
		return nil
	}
	opts := []dsa.Option{}
	if cfg.DSA.RateLimit > 0 {
		opts = append(opts, dsa.WithRateLimit(cfg.DSA.RateLimit))
	}
	if cfg.DSA.PageSize > 0 {
		opts = append(opts, dsa.WithPageSize(cfg.DSA.PageSize))
	}
	return dsa.NewClient(cfg.DSA.APIURL, cfg.DSA.Token, opts...)
}

// initEnv sets up the store and archive client, builds the record store,
// and restores the last snapshot. Callers should defer env.Close().
func initEnv(ctx context.Context) (*wranglerEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	client := initClient()

	w := wrangler.New(client, st, syncer.Config{
		BatchWidth: cfg.Sync.BatchWidth,
		BatchDelay: cfg.Sync.BatchDelay,
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.Sync.RetryAttempts,
			Delay:       cfg.Sync.RetryDelay,
		},
	})

	found, err := w.LoadSnapshot(ctx)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load snapshot")
	}
	if !found {
		zap.L().Debug("no snapshot found, starting empty")
	}

	return &wranglerEnv{Store: st, Client: client, Wrangler: w}, nil
}
