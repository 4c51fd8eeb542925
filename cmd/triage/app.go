package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/triage-mcp/internal/config"
	"github.com/dshills/triage-mcp/internal/conversation"
	"github.com/dshills/triage-mcp/internal/embedder"
	"github.com/dshills/triage-mcp/internal/generator"
	"github.com/dshills/triage-mcp/internal/indexer"
	"github.com/dshills/triage-mcp/internal/learning"
	"github.com/dshills/triage-mcp/internal/logger"
	"github.com/dshills/triage-mcp/internal/maintenance"
	"github.com/dshills/triage-mcp/internal/metrics"
	"github.com/dshills/triage-mcp/internal/notify"
	"github.com/dshills/triage-mcp/internal/resilience"
	"github.com/dshills/triage-mcp/internal/retriever"
	"github.com/dshills/triage-mcp/internal/routing"
	"github.com/dshills/triage-mcp/internal/storage"
	"github.com/dshills/triage-mcp/internal/triage"
)

// app holds every wired component for one process
type app struct {
	cfg *config.Config
	log *logger.Logger

	store      storage.Storage
	metrics    *metrics.Metrics
	dispatcher *notify.Dispatcher
	indexer    *indexer.Indexer
	chain      *resilience.Chain
	sweeper    *resilience.Sweeper
	jobs       *maintenance.Jobs
	pipeline   *triage.Pipeline

	closers []func() error
}

// newApp opens storage and builds the pipeline from cfg. Callers must
// call close.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	if err := a.wire(ctx); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	sinks := []notify.Sink{notify.NewLogSink(a.log)}
	if cfg.Notify.Slack.WebhookURL != "" {
		slackSink, err := notify.NewSlackSink(cfg.Notify.Slack)
		if err != nil {
			return fmt.Errorf("failed to configure slack: %w", err)
		}
		sinks = append(sinks, slackSink)
	}
	a.dispatcher = notify.NewDispatcher(a.log, cfg.Notify.BufferSize, sinks...)
	a.closers = append(a.closers, a.dispatcher.Close)

	emb, err := embedder.New(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	ret, err := retriever.New(a.store, emb, cfg.Retrieval, a.log)
	if err != nil {
		return fmt.Errorf("failed to initialize retriever: %w", err)
	}

	a.indexer = indexer.New(a.store, emb, cfg.Indexer, a.log)
	a.indexer.SetInvalidator(ret)

	gate := learning.NewGate(cfg.Learning, a.store, a.log)
	gate.SetObserver(a.metrics)
	if err := gate.Load(ctx); err != nil {
		return err
	}

	engine := routing.NewEngine(cfg.Routing, a.store, a.log)
	engine.SetObserver(a.metrics)

	providers, err := generator.NewAll(cfg.Providers)
	if err != nil {
		return fmt.Errorf("failed to configure providers: %w", err)
	}
	registry := resilience.NewRegistry(cfg.Resilience, resilience.SystemClock{})
	a.chain = resilience.NewChain(cfg.Resilience, registry, providers,
		resilience.WithQueue(a.store),
		resilience.WithNotifier(a.dispatcher),
		resilience.WithObserver(a.metrics),
		resilience.WithLogger(a.log))

	convStore, closeConv, err := conversation.OpenStore(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeConv)
	tracker := conversation.NewTracker(cfg.Conversation, convStore, a.log)

	a.pipeline, err = triage.New(cfg.Triage, triage.Deps{
		Retriever: ret,
		Gate:      gate,
		Engine:    engine,
		Generator: a.chain,
		Store:     a.store,
		Tracker:   tracker,
		Embedder:  emb,
		Indexer:   a.indexer,
		Notifier:  a.dispatcher,
		Observer:  a.metrics,
		Logger:    a.log,
	})
	if err != nil {
		return err
	}

	a.sweeper = resilience.NewSweeper(cfg.Resilience, a.store,
		resilience.ReplayHandler(a.chain, a.pipeline.OnReplay),
		resilience.WithSweeperNotifier(a.dispatcher),
		resilience.WithQueueObserver(a.metrics),
		resilience.WithSweeperLogger(a.log))
	a.jobs = maintenance.NewJobs(a.store, cfg.Maintenance)

	a.log.Info("components initialized",
		"backend", cfg.Database.Driver,
		"embedding", cfg.Embedding.Provider,
		"providers", a.chain.Providers(),
		"redis", cfg.Redis.Enabled,
		"learning_total", gate.Total(),
		"phase", string(gate.Phase()))
	return nil
}

// serveMetrics exposes the registry when enabled and returns immediately
func (a *app) serveMetrics(ctx context.Context) {
	if !a.cfg.Metrics.Enabled {
		return
	}
	go func() {
		if err := a.metrics.Serve(ctx, a.cfg.Metrics); err != nil {
			a.log.Error("metrics server stopped", "addr", a.cfg.Metrics.Addr, "error", err)
		}
	}()
	a.log.Info("metrics listening", "addr", a.cfg.Metrics.Addr, "path", a.cfg.Metrics.Path)
}

// close releases resources in reverse order of acquisition
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
