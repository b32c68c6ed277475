package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"payment-router/internal/payment"
)

const namespace = "payrouter"

var (
	routingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Routing decisions by outcome, tier, kind and selected processor",
		},
		[]string{"outcome", "tier", "kind", "processor"},
	)

	dispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "Dispatch attempts by processor and outcome",
		},
		[]string{"processor", "outcome"},
	)

	dispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "latency_seconds",
			Help:      "Observed dispatch latency per processor",
			Buckets:   prometheus.ExponentialBuckets(0.025, 2, 10),
		},
		[]string{"processor"},
	)

	riskScores = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "score",
			Help:      "Classifier scores by resulting tier",
			Buckets:   []float64{5, 10, 20, 30, 40, 60, 80, 100, 150},
		},
		[]string{"tier"},
	)

	processorHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "processor_health",
			Help:      "1 for the processor's current health state, 0 otherwise",
		},
		[]string{"processor", "health"},
	)

	healthTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "health_transitions_total",
			Help:      "Processor health transitions",
		},
		[]string{"processor", "from", "to"},
	)

	probeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "probe_failures_total",
			Help:      "Failed processor status probes",
		},
		[]string{"processor"},
	)

	syntheticTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "synth",
			Name:      "transactions_total",
			Help:      "Generated synthetic transactions by pattern and type",
		},
		[]string{"pattern", "type"},
	)
)

// ObserveDecision counts one routing decision.
func ObserveDecision(outcome, tier, kind, processor string) {
	routingDecisions.WithLabelValues(outcome, tier, kind, processor).Inc()
}

// ObserveDispatch records one dispatch attempt.
func ObserveDispatch(processor, outcome string, latency time.Duration) {
	dispatchAttempts.WithLabelValues(processor, outcome).Inc()
	if latency > 0 {
		dispatchLatency.WithLabelValues(processor).Observe(latency.Seconds())
	}
}

// ObserveRiskScore records a classifier score.
func ObserveRiskScore(tier string, score float64) {
	riskScores.WithLabelValues(tier).Observe(score)
}

// SetHealth publishes the current health of a processor.
func SetHealth(processor string, health payment.Health) {
	for _, h := range []payment.Health{payment.HealthActive, payment.HealthDegraded, payment.HealthFrozen} {
		v := 0.0
		if h == health {
			v = 1
		}
		processorHealth.WithLabelValues(processor, string(h)).Set(v)
	}
}

// ObserveTransition counts a health transition and updates the gauge.
func ObserveTransition(processor string, from, to payment.Health) {
	healthTransitions.WithLabelValues(processor, string(from), string(to)).Inc()
	SetHealth(processor, to)
}

// ObserveProbeFailure counts a failed status probe.
func ObserveProbeFailure(processor string) {
	probeFailures.WithLabelValues(processor).Inc()
}

// ObserveSynthetic counts generated transactions.
func ObserveSynthetic(pattern, txType string, n int) {
	syntheticTransactions.WithLabelValues(pattern, txType).Add(float64(n))
}

// Server exposes the default registry over HTTP.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer builds a metrics server listening on addr and serving path.
func NewServer(addr, path string, logger zerolog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("metrics listener started")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
