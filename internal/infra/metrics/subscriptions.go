package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsActivatedTotal,
		subscriptionsExpiredTotal,
		entitlementsDowngradedTotal,
	)
}

var (
	subscriptionsActivatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_activated_total",
			Help: "Subscriptions created by successful payments, by subscription type.",
		},
		[]string{"type"},
	)

	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Total number of subscriptions deactivated by the expiry worker.",
		},
	)

	entitlementsDowngradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlements_downgraded_total",
			Help: "Total number of user entitlement snapshots downgraded to FREE.",
		},
	)
)

func IncSubscriptionActivated(subType string) {
	subscriptionsActivatedTotal.WithLabelValues(norm(subType)).Inc()
}

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func IncEntitlementsDowngraded(count int) {
	entitlementsDowngradedTotal.Add(float64(count))
}
