package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/triage-mcp/internal/logger"
)

const (
	// DefaultBufferSize is the number of alerts held before new ones are dropped
	DefaultBufferSize = 256

	// DefaultSendTimeout bounds delivery to a single sink
	DefaultSendTimeout = 10 * time.Second
)

// Dispatcher fans alerts out to sinks from a single background goroutine
type Dispatcher struct {
	sinks       []Sink
	log         *logger.Logger
	sendTimeout time.Duration

	ch      chan Alert
	wg      sync.WaitGroup
	once    sync.Once
	closeMu sync.RWMutex
	closed  bool
	dropped atomic.Int64
	sent    atomic.Int64
}

// NewDispatcher starts a dispatcher delivering to sinks
func NewDispatcher(log *logger.Logger, bufferSize int, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	d := &Dispatcher{
		sinks:       sinks,
		log:         log.Named("notify"),
		sendTimeout: DefaultSendTimeout,
		ch:          make(chan Alert, bufferSize),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify enqueues alert. It never blocks; a full buffer drops the alert.
func (d *Dispatcher) Notify(_ context.Context, alert Alert) {
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}

	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}

	select {
	case d.ch <- alert:
	default:
		d.dropped.Add(1)
		d.log.Warn("alert dropped, buffer full", "kind", alert.Kind, "summary", alert.Summary)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for alert := range d.ch {
		d.deliver(alert)
	}
}

func (d *Dispatcher) deliver(alert Alert) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := sink.Send(ctx, alert)
		cancel()
		if err != nil {
			d.log.Error("alert delivery failed", "sink", sink.Name(), "kind", alert.Kind, "error", err)
			continue
		}
	}
	d.sent.Add(1)
}

// Dropped returns the number of alerts discarded
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Delivered returns the number of alerts handed to every sink
func (d *Dispatcher) Delivered() int64 {
	return d.sent.Load()
}

// Close drains buffered alerts and stops the background goroutine
func (d *Dispatcher) Close() error {
	d.once.Do(func() {
		d.closeMu.Lock()
		d.closed = true
		close(d.ch)
		d.closeMu.Unlock()
		d.wg.Wait()
	})
	return nil
}
