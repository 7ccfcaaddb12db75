package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/costwatch/internal/bus"
	"github.com/sells-group/costwatch/internal/envelope"
	"github.com/sells-group/costwatch/internal/reconcile"
	"github.com/sells-group/costwatch/internal/store"
	"github.com/sells-group/costwatch/internal/variance"
)

// appEnv bundles the wired engine for a command invocation.
type appEnv struct {
	Store    store.Store
	Bus      *bus.Bus
	Service  *envelope.Service
	Engine   *reconcile.Engine
	Analyzer *variance.Analyzer
}

func (e *appEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "costwatch.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine wires the store, bus, mutator, reconciliation engine, and
// analyzer, and runs migrations.
func initEngine(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	log := zap.L()
	b := bus.New(log)

	if cfg.Alerts.WebhookURL != "" {
		bus.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.RatePerSec, log).Attach(b)
	}

	svc := envelope.NewService(st, st, b, log)
	eng := reconcile.NewEngine(st, svc, log)
	an := variance.NewAnalyzer(st, b, log)
	if cfg.Variance.CriticalMultiplier > 0 {
		an.CriticalMultiplier = cfg.Variance.CriticalMultiplier
	}
	if cfg.Variance.PolicyFile != "" {
		policy, err := variance.LoadThresholdPolicy(cfg.Variance.PolicyFile)
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		an.Policy = policy
	}

	return &appEnv{Store: st, Bus: b, Service: svc, Engine: eng, Analyzer: an}, nil
}
