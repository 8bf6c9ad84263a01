package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// noEndpoint labels requests that matched no endpoint. Raw paths are not
// used as label values.
const noEndpoint = "none"

// Metrics holds the Prometheus collectors for the submission pipeline.
// A nil *Metrics records nothing.
type Metrics struct {
	submissions      *prometheus.CounterVec
	botCheckFailures *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "form_relay",
			Name:      "submissions_total",
			Help:      "Form submissions by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		botCheckFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "form_relay",
			Name:      "bot_check_failures_total",
			Help:      "Failed bot-challenge verifications by reason.",
		}, []string{"reason"}),
		dispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "form_relay",
			Name:      "dispatch_failures_total",
			Help:      "Failed email dispatches by reason.",
		}, []string{"reason"}),
		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "form_relay",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent handing a message to the delivery provider.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) submission(endpoint string, o Outcome) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(endpoint, o.String()).Inc()
}

func (m *Metrics) botCheckFailed(reason string) {
	if m == nil {
		return
	}
	m.botCheckFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) dispatched(endpoint string, d time.Duration, failReason string) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(endpoint).Observe(d.Seconds())
	if failReason != "" {
		m.dispatchFailures.WithLabelValues(failReason).Inc()
	}
}
