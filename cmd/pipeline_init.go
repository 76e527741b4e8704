package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/isochrone"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/pipeline"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "kitamap.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pipelineEnv bundles the long-lived resources behind one Close.
type pipelineEnv struct {
	Store    store.Store
	Cache    *isochrone.Cache
	Pipeline *pipeline.Pipeline
}

func (e *pipelineEnv) Close() {
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	cache, err := isochrone.OpenCache(cfg.Cache.Path)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "open isochrone cache")
	}

	return &pipelineEnv{
		Store:    st,
		Cache:    cache,
		Pipeline: pipeline.New(cfg, st, cache),
	}, nil
}
