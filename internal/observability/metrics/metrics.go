package metrics

import "github.com/prometheus/client_golang/prometheus"

// TrainingMetrics exposes counters/histograms for the session workflow.
type TrainingMetrics struct {
	invocations       *prometheus.CounterVec
	stepLatency       *prometheus.HistogramVec
	ratings           prometheus.Histogram
	evaluatorFailures prometheus.Counter
	completions       *prometheus.CounterVec
	modelCalls        *prometheus.CounterVec
}

func NewTrainingMetrics(reg prometheus.Registerer) *TrainingMetrics {
	m := &TrainingMetrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roleplay",
			Subsystem: "workflow",
			Name:      "invocations_total",
			Help:      "Workflow invocations by outcome",
		}, []string{"outcome"}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "roleplay",
			Subsystem: "workflow",
			Name:      "step_latency_seconds",
			Help:      "Latency of individual workflow steps",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		ratings: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "roleplay",
			Subsystem: "workflow",
			Name:      "trainee_rating",
			Help:      "Distribution of trainee turn ratings",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		evaluatorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roleplay",
			Subsystem: "workflow",
			Name:      "evaluator_failures_total",
			Help:      "Trainee turns left unrated because evaluation failed",
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roleplay",
			Subsystem: "workflow",
			Name:      "completions_total",
			Help:      "Completed sessions by outcome",
		}, []string{"outcome"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roleplay",
			Subsystem: "model",
			Name:      "calls_total",
			Help:      "Generative model calls by purpose and status",
		}, []string{"purpose", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.invocations, m.stepLatency, m.ratings, m.evaluatorFailures, m.completions, m.modelCalls)
	return m
}

func (m *TrainingMetrics) ObserveInvocation(outcome string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(outcome).Inc()
}

func (m *TrainingMetrics) ObserveStep(step string, seconds float64) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(step).Observe(seconds)
}

func (m *TrainingMetrics) ObserveRating(score int) {
	if m == nil {
		return
	}
	m.ratings.Observe(float64(score))
}

func (m *TrainingMetrics) ObserveEvaluatorFailure() {
	if m == nil {
		return
	}
	m.evaluatorFailures.Inc()
}

func (m *TrainingMetrics) ObserveCompletion(outcome string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(outcome).Inc()
}

func (m *TrainingMetrics) ObserveModelCall(purpose, status string) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(purpose, status).Inc()
}
