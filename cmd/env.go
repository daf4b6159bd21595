package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/platewise/leadscout/internal/extract"
	"github.com/platewise/leadscout/internal/pipeline"
	"github.com/platewise/leadscout/internal/resilience"
	"github.com/platewise/leadscout/internal/store"
	"github.com/platewise/leadscout/pkg/extractor"
	"github.com/platewise/leadscout/pkg/places"
)

// pipelineEnv holds the initialized store, API clients, and pipeline
// services shared by the job/leads/convert/serve commands.
type pipelineEnv struct {
	Store        store.Store
	Extractor    *extract.Limited
	Places       places.Client // nil when no API key is configured
	Orchestrator *pipeline.Orchestrator
	Converter    *pipeline.Converter
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadscout.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store and API clients and wires the pipeline services.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	exClient := extractor.NewClient(cfg.Extractor.Key,
		extractor.WithBaseURL(cfg.Extractor.BaseURL),
		extractor.WithTimeout(cfg.Extractor.Timeout()),
	)
	limited := extract.New(exClient, extract.Config{
		Concurrency:   cfg.Extractor.Concurrency,
		RatePerMinute: cfg.Extractor.RatePerMinute,
		Retry: resilience.RetryConfig{
			MaxAttempts:    cfg.Extractor.MaxAttempts,
			InitialBackoff: cfg.Extractor.Backoff(),
			MaxBackoff:     60 * time.Second,
			Multiplier:     2.0,
		},
	})

	// The place store is optional: without it fuzzy dedupe is skipped and
	// conversion is unavailable.
	var pl places.Client
	if cfg.Places.Key != "" {
		pl = places.NewClient(cfg.Places.Key, places.WithBaseURL(cfg.Places.BaseURL))
	} else {
		zap.L().Warn("LEADSCOUT_PLACES_KEY not set, fuzzy dedupe and conversion disabled")
	}

	deduper := pipeline.NewDeduper(st, pl, cfg.Pipeline.DedupeThreshold)
	proc := pipeline.NewProcessor(st, limited, deduper, cfg.Pipeline.FailureThreshold)

	env := &pipelineEnv{
		Store:        st,
		Extractor:    limited,
		Places:       pl,
		Orchestrator: pipeline.NewOrchestrator(st, proc),
	}
	if pl != nil {
		env.Converter = pipeline.NewConverter(st, pl)
	}
	return env, nil
}
