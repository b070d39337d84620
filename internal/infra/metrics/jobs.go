package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobRunsTotal, sweptPaymentsTotal) }

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Total number of periodic job runs, labeled by job and result.",
		},
		[]string{"job", "result"}, // result: ok|error|skipped
	)

	sweptPaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swept_payments_total",
			Help: "Stale pending payments handled by the sweeper, by action.",
		},
		[]string{"action"}, // skipped|settled|expired|no_change|error
	)
)

func IncJobRun(job, result string) {
	jobRunsTotal.WithLabelValues(norm(job), norm(result)).Inc()
}

func IncSweptPayment(action string) {
	sweptPaymentsTotal.WithLabelValues(norm(action)).Inc()
}
