package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dshills/triage-mcp/internal/logger"
	"github.com/dshills/triage-mcp/internal/resilience"
)

// Config holds cron specs and job thresholds
type Config struct {
	RecomputeSpec       string        `koanf:"recompute_spec" validate:"required"`
	StalenessSpec       string        `koanf:"staleness_spec" validate:"required"`
	DuplicateSpec       string        `koanf:"duplicate_spec" validate:"required"`
	SweepSpec           string        `koanf:"sweep_spec"`
	StaleAfter          time.Duration `koanf:"stale_after" validate:"gt=0"`
	DuplicateSimilarity float64       `koanf:"duplicate_similarity" validate:"gt=0,lte=1"`
	JobTimeout          time.Duration `koanf:"job_timeout" validate:"gte=0"`
}

// DefaultConfig returns the nightly schedule
func DefaultConfig() Config {
	return Config{
		RecomputeSpec:       "0 2 * * *",
		StalenessSpec:       "15 2 * * *",
		DuplicateSpec:       "30 2 * * *",
		SweepSpec:           "@every 30s",
		StaleAfter:          180 * 24 * time.Hour,
		DuplicateSimilarity: 0.98,
		JobTimeout:          10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.DuplicateSimilarity <= 0 {
		c.DuplicateSimilarity = d.DuplicateSimilarity
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	return c
}

// Sweeper drains due retry-queue operations
type Sweeper interface {
	SweepOnce(ctx context.Context) (resilience.SweepStats, error)
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

// Scheduler registers the jobs on a cron instance
type Scheduler struct {
	cron    *cron.Cron
	jobs    *Jobs
	sweeper Sweeper
	cfg     Config
	log     *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler. sweeper may be nil, in which case no
// sweep job is registered.
func NewScheduler(cfg Config, jobs *Jobs, sweeper Sweeper, log *logger.Logger) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("maintenance")
	cl := cronLogger{log: log}

	s := &Scheduler{
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		jobs:    jobs,
		sweeper: sweeper,
		cfg:     cfg,
		log:     log,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	entries := []job{
		{"recompute_success_rates", cfg.RecomputeSpec, s.recompute},
		{"flag_stale", cfg.StalenessSpec, s.flagStale},
		{"flag_duplicates", cfg.DuplicateSpec, s.flagDuplicates},
	}
	if sweeper != nil && cfg.SweepSpec != "" {
		entries = append(entries, job{"retry_sweep", cfg.SweepSpec, s.sweep})
	}

	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.spec, s.wrap(e.name, e.run)); err != nil {
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", e.spec, e.name, err)
		}
	}
	return s, nil
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("maintenance scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts scheduling, cancels running jobs and waits for them or ctx
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Entries returns the number of registered jobs
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

func (s *Scheduler) wrap(name string, run func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
		defer cancel()

		start := time.Now()
		if err := run(ctx); err != nil {
			s.log.Error("maintenance job failed", "job", name, "error", err)
			return
		}
		s.log.Debug("maintenance job finished", "job", name, "duration", time.Since(start))
	}
}

func (s *Scheduler) recompute(ctx context.Context) error {
	n, err := s.jobs.RecomputeSuccessRates(ctx)
	if err == nil && n > 0 {
		s.log.Info("success rates recomputed", "items", n)
	}
	return err
}

func (s *Scheduler) flagStale(ctx context.Context) error {
	set, cleared, err := s.jobs.FlagStale(ctx)
	if err == nil && set+cleared > 0 {
		s.log.Info("staleness updated", "stale", set, "cleared", cleared)
	}
	return err
}

func (s *Scheduler) flagDuplicates(ctx context.Context) error {
	n, err := s.jobs.FlagDuplicates(ctx)
	if err == nil && n > 0 {
		s.log.Info("duplicates flagged", "items", n)
	}
	return err
}

func (s *Scheduler) sweep(ctx context.Context) error {
	_, err := s.sweeper.SweepOnce(ctx)
	return err
}

// cronLogger adapts the zap-backed logger to cron.Logger
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
