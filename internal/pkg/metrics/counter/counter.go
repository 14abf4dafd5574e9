// Package counter exposes the billing core's Prometheus counters.
package counter

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardfox_billing_webhook_events_total",
			Help: "Processor webhooks by outcome",
		},
		[]string{"outcome"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardfox_subscription_transitions_total",
			Help: "Subscription status changes",
		},
		[]string{"from", "to"},
	)
	quotaDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardfox_quota_denials_total",
			Help: "Resource creations denied by plan quota",
		},
		[]string{"resource"},
	)
	sweepExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cardfox_sweep_expired_total",
			Help: "Subscriptions expired by the periodic sweep",
		},
	)
	gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardfox_gateway_calls_total",
			Help: "Payment processor calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		webhookEvents,
		transitions,
		quotaDenials,
		sweepExpired,
		gatewayCalls,
	)
}

// AddWebhookEvent counts a webhook by outcome (applied, duplicate, ignored, unverified, failed).
func AddWebhookEvent(outcome string) {
	webhookEvents.WithLabelValues(outcome).Inc()
}

func AddTransition(from, to string) {
	transitions.WithLabelValues(from, to).Inc()
}

func AddQuotaDenial(resource string) {
	quotaDenials.WithLabelValues(resource).Inc()
}

func AddSweepExpired(n int) {
	sweepExpired.Add(float64(n))
}

// AddGatewayCall counts a processor call; err decides the outcome label.
func AddGatewayCall(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	gatewayCalls.WithLabelValues(op, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}
