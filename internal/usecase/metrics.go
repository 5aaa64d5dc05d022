package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks award pipeline activity for the /metrics endpoint.
type Metrics struct {
	AwardAttempts     *prometheus.CounterVec
	CreditsAwarded    prometheus.Counter
	DetectionDuration prometheus.Histogram
}

// NewMetrics registers pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AwardAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ecosap_award_attempts_total",
			Help: "Award pipeline attempts by terminal result.",
		}, []string{"result"}),
		CreditsAwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecosap_credits_awarded_total",
			Help: "Total eco-credits granted.",
		}),
		DetectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ecosap_detection_duration_seconds",
			Help:    "Latency of calls to the area detection service.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeResult(result string) {
	if m == nil {
		return
	}
	m.AwardAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) observeCredits(credits int) {
	if m == nil {
		return
	}
	m.CreditsAwarded.Add(float64(credits))
}

func (m *Metrics) observeDetection(seconds float64) {
	if m == nil {
		return
	}
	m.DetectionDuration.Observe(seconds)
}
