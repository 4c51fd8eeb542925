package resilience

import (
	"time"

	"github.com/dshills/triage-mcp/pkg/types"
)

// Config holds breaker, call and retry-queue policy
type Config struct {
	FailureThreshold int           `koanf:"failure_threshold" validate:"min=1,max=10"`
	Cooldown         time.Duration `koanf:"cooldown" validate:"gt=0"`
	CallTimeout      time.Duration `koanf:"call_timeout" validate:"gt=0"`
	QueueTTL         time.Duration `koanf:"queue_ttl" validate:"gt=0"`
	MaxRetries       int           `koanf:"max_retries" validate:"min=1"`
	BackoffBase      time.Duration `koanf:"backoff_base" validate:"gt=0"`
	BackoffCap       time.Duration `koanf:"backoff_cap" validate:"gtefield=BackoffBase"`
	SweepInterval    time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	SweepBatch       int           `koanf:"sweep_batch" validate:"min=1"`
}

// DefaultConfig returns the production policy
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		CallTimeout:      20 * time.Second,
		QueueTTL:         types.DefaultOperationTTL,
		MaxRetries:       types.DefaultOperationMaxRetries,
		BackoffBase:      2 * time.Second,
		BackoffCap:       60 * time.Second,
		SweepInterval:    30 * time.Second,
		SweepBatch:       50,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.QueueTTL <= 0 {
		c.QueueTTL = d.QueueTTL
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = d.BackoffCap
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = d.SweepBatch
	}
	return c
}

// Clock abstracts time for breaker and sweeper transitions
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
