package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pricesync/internal/extract"
	"github.com/sells-group/pricesync/internal/fetcher"
	"github.com/sells-group/pricesync/internal/notify"
	"github.com/sells-group/pricesync/internal/progress"
	"github.com/sells-group/pricesync/internal/reconcile"
	"github.com/sells-group/pricesync/internal/store"
)

// env bundles the wired components behind the CLI commands.
type env struct {
	Store     store.Store
	Extractor *extract.Extractor
	Tracker   *progress.Tracker
	Worker    *reconcile.Worker
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// openStore picks the backend from config.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func initEnv(ctx context.Context) (*env, error) {
	s, err := openStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	extractor, err := extract.New(cfg.Extract)
	if err != nil {
		s.Close()
		return nil, eris.Wrap(err, "init extractor")
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:   cfg.Fetch.MaxRetries,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		HostRate:     rate.Limit(cfg.Fetch.HostRatePerSec),
		HostBurst:    cfg.Fetch.HostBurst,
	})

	tracker := progress.NewTracker(s)
	dispatcher := notify.NewDispatcher(s, notify.Options{WebhookURL: cfg.Notify.WebhookURL})
	worker := reconcile.NewWorker(s, f, extractor, dispatcher, tracker, reconcile.Options{
		Epsilon:         cfg.Reconcile.Epsilon,
		PolitenessDelay: time.Duration(cfg.Reconcile.PolitenessDelayMs) * time.Millisecond,
	})

	return &env{
		Store:     s,
		Extractor: extractor,
		Tracker:   tracker,
		Worker:    worker,
	}, nil
}
