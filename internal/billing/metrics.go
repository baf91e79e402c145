package billing

import "github.com/prometheus/client_golang/prometheus"

var (
	webhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "projectledger",
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Webhook events by type and outcome (processed, duplicate, ignored, dropped, failed, rejected).",
	}, []string{"type", "outcome"})

	gatewayCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "projectledger",
		Subsystem: "billing",
		Name:      "gateway_calls_total",
		Help:      "Outbound payment-gateway calls by operation and outcome.",
	}, []string{"op", "outcome"})

	subscriptionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "projectledger",
		Subsystem: "billing",
		Name:      "subscription_transitions_total",
		Help:      "Subscription status writes by resulting status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(webhookEvents, gatewayCalls, subscriptionTransitions)
}
