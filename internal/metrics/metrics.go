package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/triage-mcp/internal/learning"
	"github.com/dshills/triage-mcp/internal/resilience"
	"github.com/dshills/triage-mcp/pkg/types"
)

// Config controls the metrics endpoint
type Config struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"required_if=Enabled true"`
	Path    string `koanf:"path"`
}

// DefaultConfig returns the default endpoint settings
func DefaultConfig() Config {
	return Config{Enabled: true, Addr: ":9108", Path: "/metrics"}
}

var (
	responseBuckets   = []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0}
	similarityBuckets = []float64{0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0}
	csatBuckets       = []float64{1, 2, 3, 4, 4.5, 5}
)

// Metrics owns a private registry and every collector on it
type Metrics struct {
	registry *prometheus.Registry

	APIRequests      *prometheus.CounterVec
	APIResponseTime  *prometheus.HistogramVec
	TicketsProcessed *prometheus.CounterVec
	Escalations      *prometheus.CounterVec
	SimilarityScore  *prometheus.HistogramVec
	CSATScore        *prometheus.HistogramVec
	RetrievalMode    *prometheus.CounterVec
	CircuitState     *prometheus.GaugeVec
	RetryQueueDepth  *prometheus.GaugeVec
	LearningExamples prometheus.Gauge
	LearningPhase    prometheus.Gauge
}

// New creates collectors on a fresh registry, including Go runtime and
// process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total provider calls by outcome",
		}, []string{"provider", "status"}),
		APIResponseTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_response_time_seconds",
			Help:    "Provider response time in seconds",
			Buckets: responseBuckets,
		}, []string{"provider"}),
		TicketsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickets_processed_total",
			Help: "Routed requests by category and automation level",
		}, []string{"category", "automation_level"}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escalations_total",
			Help: "Escalations to a human by reason",
		}, []string{"reason"}),
		SimilarityScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "similarity_score_distribution",
			Help:    "Distribution of fused similarity scores",
			Buckets: similarityBuckets,
		}, []string{"category"}),
		CSATScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "csat_score",
			Help:    "Customer satisfaction scores from feedback",
			Buckets: csatBuckets,
		}, []string{"category"}),
		RetrievalMode: f.NewCounterVec(prometheus.CounterOpts{
			Name: "retrieval_total",
			Help: "Retrievals by mode and degradation",
		}, []string{"mode", "degraded"}),
		CircuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_state",
			Help: "Circuit breaker state per provider (0 closed, 1 open, 2 half-open)",
		}, []string{"provider"}),
		RetryQueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "retry_queue_depth",
			Help: "Failed operations by queue status",
		}, []string{"status"}),
		LearningExamples: f.NewGauge(prometheus.GaugeOpts{
			Name: "learning_examples_total",
			Help: "Validated examples counted by the learning gate",
		}),
		LearningPhase: f.NewGauge(prometheus.GaugeOpts{
			Name: "learning_phase",
			Help: "Learning phase (0 manual, 1 assisted, 2 autonomous)",
		}),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCall records one provider attempt
func (m *Metrics) ObserveCall(provider, outcome string, elapsed time.Duration) {
	m.APIRequests.WithLabelValues(provider, outcome).Inc()
	if outcome != "skipped" {
		m.APIResponseTime.WithLabelValues(provider).Observe(elapsed.Seconds())
	}
}

// ObserveCircuit records a breaker transition
func (m *Metrics) ObserveCircuit(provider string, state resilience.State) {
	m.CircuitState.WithLabelValues(provider).Set(float64(state))
}

// ObserveQueue records retry queue depth after a sweep
func (m *Metrics) ObserveQueue(queued, abandoned int) {
	m.RetryQueueDepth.WithLabelValues(string(types.OperationQueued)).Set(float64(queued))
	m.RetryQueueDepth.WithLabelValues(string(types.OperationAbandoned)).Set(float64(abandoned))
}

// ObserveLearning records the gate's total and phase
func (m *Metrics) ObserveLearning(total int, phase learning.Phase) {
	m.LearningExamples.Set(float64(total))
	m.LearningPhase.Set(phaseValue(phase))
}

// ObserveDecision records a routing outcome
func (m *Metrics) ObserveDecision(d *types.RoutingDecision) {
	category := d.Category
	if category == "" {
		category = "uncategorized"
	}
	m.TicketsProcessed.WithLabelValues(category, string(d.Path)).Inc()
	m.SimilarityScore.WithLabelValues(category).Observe(d.FusedSimilarity)
	if d.Path == types.PathEscalate {
		m.Escalations.WithLabelValues(d.ReasonCode).Inc()
	}
}

// ObserveRetrieval records the mode a retrieval ran in
func (m *Metrics) ObserveRetrieval(mode string, degraded bool) {
	label := "false"
	if degraded {
		label = "true"
	}
	m.RetrievalMode.WithLabelValues(mode, label).Inc()
}

// ObserveFeedback records a satisfaction score
func (m *Metrics) ObserveFeedback(category string, satisfaction float64) {
	if satisfaction <= 0 {
		return
	}
	m.CSATScore.WithLabelValues(category).Observe(satisfaction)
}

func phaseValue(p learning.Phase) float64 {
	switch p {
	case learning.PhaseAssisted:
		return 1
	case learning.PhaseAutonomous:
		return 2
	default:
		return 0
	}
}

// Serve exposes the handler on cfg.Addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, cfg Config) error {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
