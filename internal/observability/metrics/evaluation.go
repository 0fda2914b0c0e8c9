package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

const namespace = "priorauth"

// EvaluationMetrics observes the evaluation pipeline and the resilience executor.
type EvaluationMetrics struct {
	service string

	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	criteriaPerRun     prometheus.Histogram
	judgmentsTotal     *prometheus.CounterVec
	retrievalHits      *prometheus.HistogramVec
	retriesTotal       *prometheus.CounterVec
	breakerOpen        *prometheus.GaugeVec
}

func NewEvaluationMetrics(service string, registerer prometheus.Registerer) *EvaluationMetrics {
	m := &EvaluationMetrics{
		service: service,
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "evaluation",
				Name:      "runs_total",
				Help:      "Finished evaluations by outcome and terminal status.",
			},
			[]string{"service", "outcome", "status"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "evaluation",
				Name:      "duration_seconds",
				Help:      "Evaluation wall time in seconds.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"service", "status"},
		),
		criteriaPerRun: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "evaluation",
				Name:        "criteria",
				Help:        "Criteria judged per completed evaluation.",
				Buckets:     []float64{0, 1, 2, 3, 5, 8, 13, 21},
				ConstLabels: prometheus.Labels{"service": service},
			},
		),
		judgmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "evaluation",
				Name:      "judgments_total",
				Help:      "Criterion judgments by verdict.",
			},
			[]string{"service", "verdict"},
		),
		retrievalHits: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "hits",
				Help:      "Chunks returned per similarity search.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
			},
			[]string{"service", "kind"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resilience",
				Name:      "retries_total",
				Help:      "Retried upstream calls by operation.",
			},
			[]string{"service", "operation"},
		),
		breakerOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "resilience",
				Name:      "breaker_open",
				Help:      "1 while the circuit breaker for an operation is open.",
			},
			[]string{"service", "operation"},
		),
	}

	registerer.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.criteriaPerRun,
		m.judgmentsTotal,
		m.retrievalHits,
		m.retriesTotal,
		m.breakerOpen,
	)
	return m
}

func (m *EvaluationMetrics) ObserveEvaluation(outcome domain.Outcome, status domain.RequestStatus, criteria int, seconds float64) {
	outcomeLabel := string(outcome)
	if outcomeLabel == "" {
		outcomeLabel = "none"
	}
	m.evaluationsTotal.WithLabelValues(m.service, outcomeLabel, string(status)).Inc()
	m.evaluationDuration.WithLabelValues(m.service, string(status)).Observe(seconds)
	if status == domain.RequestComplete {
		m.criteriaPerRun.Observe(float64(criteria))
	}
}

func (m *EvaluationMetrics) ObserveJudgment(verdict string) {
	if verdict == "" {
		verdict = "unknown"
	}
	m.judgmentsTotal.WithLabelValues(m.service, verdict).Inc()
}

func (m *EvaluationMetrics) ObserveRetrieval(kind string, hits int) {
	m.retrievalHits.WithLabelValues(m.service, kind).Observe(float64(hits))
}

func (m *EvaluationMetrics) ObserveRetry(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *EvaluationMetrics) ObserveBreakerState(operation string, state string) {
	open := 0.0
	if state == "open" {
		open = 1
	}
	m.breakerOpen.WithLabelValues(m.service, operation).Set(open)
}
