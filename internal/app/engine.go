package app

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/raysh454/ztguard/internal/alerts"
	"github.com/raysh454/ztguard/internal/features"
	"github.com/raysh454/ztguard/internal/intel"
	"github.com/raysh454/ztguard/internal/logging"
	"github.com/raysh454/ztguard/internal/metrics"
	"github.com/raysh454/ztguard/internal/mlscore"
	"github.com/raysh454/ztguard/internal/network"
	"github.com/raysh454/ztguard/internal/rules"
	"github.com/raysh454/ztguard/internal/scanner"
	"github.com/raysh454/ztguard/internal/scoring"
	"github.com/raysh454/ztguard/internal/server"
	"github.com/raysh454/ztguard/internal/store/sqlstore"
	"github.com/raysh454/ztguard/internal/threat"
)

// Engine is the set of wired services behind the API and the CLI.
type Engine struct {
	Store   *sqlstore.Store
	Metrics *metrics.Metrics
	Threats *threat.Service
	Alerts  *alerts.Service
	Network *network.Monitor
	Intel   *intel.Service
	Scanner *scanner.Scanner

	logger logging.Logger
}

// NewEngine opens the store, builds every service and restores the persisted
// intel lists and IP blocklist. A nil clock means the wall clock.
func NewEngine(ctx context.Context, cfg *Config, logger logging.Logger, clock clockwork.Clock) (*Engine, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	st, err := sqlstore.Open(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	m := metrics.New()
	e := &Engine{
		Store:   st,
		Metrics: m,
		Threats: threat.NewService(st, clock, logger, m),
		Alerts:  alerts.NewService(cfg.Alerts, st, clock, logger, m),
		Intel:   intel.NewService(cfg.Intel, st, clock, logger),
		logger:  logger,
	}
	e.Network = network.NewMonitor(cfg.Network, st, e.Alerts, e.Intel, clock, logger, m)

	if err := e.Intel.Load(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("loading intel lists: %w", err)
	}
	if err := e.Network.Load(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("loading blocklist: %w", err)
	}

	d := scanner.Deps{
		Extractor: features.NewExtractor(cfg.Features),
		Rules:     rules.NewEngine(cfg.Rules),
		Combiner:  scoring.NewCombiner(cfg.Scoring),
		ML:        mlProvider(cfg.ML, logger),
		Intel:     e.Intel,
		Threats:   e.Threats,
		Alerts:    e.Alerts,
		Logger:    logger,
		Metrics:   m,
	}
	if cfg.Semantic.Endpoint != "" {
		d.Semantic = mlscore.NewRemoteProvider(cfg.Semantic, logger, nil)
	}
	e.Scanner = scanner.New(cfg.Scanner, d)

	logger.Info("engine ready",
		logging.Field{Key: "store", Value: st.Dialect().Name},
		logging.Field{Key: "ml_provider", Value: cfg.ML.Provider},
		logging.Field{Key: "semantic", Value: d.Semantic != nil})
	return e, nil
}

func mlProvider(cfg MLConfig, logger logging.Logger) mlscore.Provider {
	switch cfg.Provider {
	case ProviderRemote:
		return mlscore.NewRemoteProvider(cfg.Remote, logger, nil)
	case ProviderNone:
		return mlscore.Unavailable{}
	}
	return mlscore.NewLinearModel(cfg.Linear)
}

// ServerDeps exposes the engine to the API server.
func (e *Engine) ServerDeps() server.Deps {
	return server.Deps{
		Scanner: e.Scanner,
		Threats: e.Threats,
		Alerts:  e.Alerts,
		Network: e.Network,
		Intel:   e.Intel,
		Metrics: e.Metrics,
		Health:  e.Store.Ping,
	}
}

func (e *Engine) Close() error {
	return e.Store.Close()
}
