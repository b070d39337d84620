package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		CallbackRequests,
		CallbackDuration,
	)
}

var (
	// Count of STK callbacks by outcome.
	// outcome: matched_token|matched_phone|unresolved|invalid|error
	CallbackRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_callback_requests_total",
			Help: "Count of M-Pesa STK callbacks by resolution outcome.",
		},
		[]string{"outcome"},
	)

	CallbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mpesa_callback_duration_seconds",
			Help:    "Duration of callback reconciliation in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"outcome"},
	)
)

func ObserveCallback(outcome string, seconds float64) {
	CallbackRequests.WithLabelValues(norm(outcome)).Inc()
	CallbackDuration.WithLabelValues(norm(outcome)).Observe(seconds)
}
