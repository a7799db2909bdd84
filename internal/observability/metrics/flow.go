package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

// FlowMetrics records submission and polling activity.
type FlowMetrics struct {
	service  string
	registry prometheus.Registerer

	submissionTotal    *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec
	pollTotal          *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	sessionTotal       *prometheus.CounterVec
	sessionDuration    *prometheus.HistogramVec
	retryTotal         *prometheus.CounterVec
}

func NewFlowMetrics(service string, reg prometheus.Registerer) *FlowMetrics {
	submissionTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veriscan",
			Subsystem: "submission",
			Name:      "steps_total",
			Help:      "Submission steps by step and outcome.",
		},
		[]string{"service", "step", "status"},
	)
	submissionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "veriscan",
			Subsystem: "submission",
			Name:      "step_duration_seconds",
			Help:      "Submission step duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "step"},
	)
	pollTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veriscan",
			Subsystem: "polling",
			Name:      "polls_total",
			Help:      "Status polls by reported status; failed polls use status=error.",
		},
		[]string{"service", "status"},
	)
	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "veriscan",
			Subsystem: "polling",
			Name:      "sessions_active",
			Help:      "Number of live polling sessions.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	sessionTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veriscan",
			Subsystem: "polling",
			Name:      "sessions_total",
			Help:      "Finished polling sessions by final status.",
		},
		[]string{"service", "status", "cancelled"},
	)
	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "veriscan",
			Subsystem: "polling",
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of polling sessions.",
			Buckets:   []float64{5, 10, 30, 60, 120, 180, 240, 300, 600},
		},
		[]string{"service", "status"},
	)
	retryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veriscan",
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Retries of outbound calls by operation.",
		},
		[]string{"service", "operation"},
	)

	reg.MustRegister(submissionTotal, submissionDuration, pollTotal, sessionsActive, sessionTotal, sessionDuration, retryTotal)

	return &FlowMetrics{
		service:            service,
		registry:           reg,
		submissionTotal:    submissionTotal,
		submissionDuration: submissionDuration,
		pollTotal:          pollTotal,
		sessionsActive:     sessionsActive,
		sessionTotal:       sessionTotal,
		sessionDuration:    sessionDuration,
		retryTotal:         retryTotal,
	}
}

func (m *FlowMetrics) ObserveSubmission(step domain.SubmissionStep, err error, duration time.Duration) {
	m.submissionTotal.WithLabelValues(m.service, string(step), outcome(err)).Inc()
	m.submissionDuration.WithLabelValues(m.service, string(step)).Observe(duration.Seconds())
}

func (m *FlowMetrics) ObservePoll(status domain.JobStatus, err error) {
	label := string(status)
	if err != nil || label == "" {
		label = "error"
	}
	m.pollTotal.WithLabelValues(m.service, label).Inc()
}

func (m *FlowMetrics) SessionStarted() {
	m.sessionsActive.Inc()
}

func (m *FlowMetrics) SessionFinished(status domain.JobStatus, cancelled bool, duration time.Duration) {
	m.sessionsActive.Dec()

	label := string(status)
	if label == "" {
		label = "none"
	}
	m.sessionTotal.WithLabelValues(m.service, label, strconv.FormatBool(cancelled)).Inc()
	m.sessionDuration.WithLabelValues(m.service, label).Observe(duration.Seconds())
}

// ObserveRetry matches the resilience executor retry hook.
func (m *FlowMetrics) ObserveRetry(operation string) {
	m.retryTotal.WithLabelValues(m.service, operation).Inc()
}

// ObserveStatusCache exports the status cache hit and miss counters. stats is
// read on every scrape.
func (m *FlowMetrics) ObserveStatusCache(stats func() (hits, misses int64)) {
	labels := prometheus.Labels{"service": m.service}
	hits := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "veriscan",
		Subsystem:   "status_cache",
		Name:        "hits_total",
		Help:        "Job status reads served from the cache.",
		ConstLabels: labels,
	}, func() float64 {
		h, _ := stats()
		return float64(h)
	})
	misses := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "veriscan",
		Subsystem:   "status_cache",
		Name:        "misses_total",
		Help:        "Job status reads that fell through to the job store.",
		ConstLabels: labels,
	}, func() float64 {
		_, mi := stats()
		return float64(mi)
	})
	m.registry.MustRegister(hits, misses)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
