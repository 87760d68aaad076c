// ABOUTME: Process wiring shared by the serve and apply commands
// ABOUTME: Builds the analyzer chain, storage, cache and engine from config

package main

import (
	"context"
	"fmt"

	"github.com/nainya/boltindex/internal/config"
	"github.com/nainya/boltindex/internal/logger"
	"github.com/nainya/boltindex/internal/metrics"
	"github.com/nainya/boltindex/pkg/analyzer"
	"github.com/nainya/boltindex/pkg/cache"
	"github.com/nainya/boltindex/pkg/engine"
	"github.com/nainya/boltindex/pkg/revision"
	"github.com/nainya/boltindex/pkg/storage"
)

// app owns the process-scoped components and their shutdown
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	backend storage.Backend
	cache   *cache.Cache
	engine  *engine.Engine
}

func newAnalyzer(cfg *config.Config, kind string) (analyzer.Analyzer, error) {
	switch kind {
	case "", "hashing":
		return analyzer.NewHashing(cfg.Embedding.Dimension), nil
	case "openai":
		return analyzer.NewOpenAI(analyzer.OpenAIConfig{
			APIKey:     cfg.Analyzer.OpenAI.APIKey,
			BaseURL:    cfg.Analyzer.OpenAI.BaseURL,
			Model:      cfg.Analyzer.OpenAI.Model,
			Dimensions: cfg.Embedding.Dimension,
		})
	default:
		return nil, fmt.Errorf("unknown analyzer kind %q", kind)
	}
}

// buildAnalyzer returns the routed analyzer chain behind one guard
func buildAnalyzer(cfg *config.Config, obs analyzer.Observer) (analyzer.Analyzer, error) {
	fallback, err := newAnalyzer(cfg, cfg.Analyzer.Kind)
	if err != nil {
		return nil, err
	}
	var next analyzer.Analyzer = fallback
	if len(cfg.Analyzer.Routes) > 0 {
		built := map[string]analyzer.Analyzer{cfg.Analyzer.Kind: fallback}
		routes := make(map[string]analyzer.Analyzer, len(cfg.Analyzer.Routes))
		for hint, kind := range cfg.Analyzer.Routes {
			a, ok := built[kind]
			if !ok {
				if a, err = newAnalyzer(cfg, kind); err != nil {
					return nil, fmt.Errorf("route %s: %w", hint, err)
				}
				built[kind] = a
			}
			routes[hint] = a
		}
		next = analyzer.NewRouter(fallback, routes)
	}
	var opts []analyzer.GuardOption
	if obs != nil {
		opts = append(opts, analyzer.WithObserver(obs))
	}
	return analyzer.NewGuard(next, cfg.Guard(), opts...), nil
}

func engineOptions(cfg *config.Config) (engine.Options, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return engine.Options{}, err
	}
	mode, err := engine.ParseConflictMode(cfg.Scheduler.ConflictMode)
	if err != nil {
		return engine.Options{}, err
	}
	t := cfg.Thresholds
	return engine.Options{
		Dimension:         cfg.Embedding.Dimension,
		Policy:            policy,
		SiblingThreshold:  t.Sibling,
		CascadeThreshold:  t.Cascade,
		MaxHops:           t.MaxHops,
		MaterialThreshold: t.Material,
		PairThreshold:     t.PairSections,
		MinMentions:       t.MinMentions,
		RegressionFloor:   t.RegressionFloor,
		UnitEpsilon:       t.UnitEpsilon,
		Workers:           cfg.Scheduler.Workers,
		ConflictMode:      mode,
		UseJudge:          cfg.Analyzer.Judge,
	}, nil
}

// newApp opens storage and assembles the engine. m may be nil.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: m}

	backend, err := storage.Open(ctx, cfg.StorageBackend(), log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.backend = backend

	var cacheObs cache.Observer
	var analyzerObs analyzer.Observer
	if m != nil {
		cacheObs, analyzerObs = m, m
	}
	if cfg.CacheSize > 0 {
		if a.cache, err = cache.New(cfg.CacheSize, cacheObs); err != nil {
			a.Close()
			return nil, fmt.Errorf("create cache: %w", err)
		}
	}

	an, err := buildAnalyzer(cfg, analyzerObs)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create analyzer: %w", err)
	}
	opts, err := engineOptions(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine, err = engine.New(engine.Deps{
		Analyzer: an,
		Store:    revision.NewStore(backend, cfg.Codec(), log),
		Cache:    a.cache,
		Metrics:  m,
		Logger:   log,
	}, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the cache and the storage backend
func (a *app) Close() error {
	a.cache.Close()
	if a.backend == nil {
		return nil
	}
	return a.backend.Close()
}
