package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsd_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsd_send_total", Help: "Immediate send outcomes"},
		[]string{"outcome"},
	)
	GatewayLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "smsd_gateway_send_latency_seconds", Help: "Gateway send latency"},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "smsd_overflow_queue_depth", Help: "Sends waiting in the overflow queue"},
	)
	QueueDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsd_overflow_dropped_total", Help: "Overflow entries dropped without sending"},
		[]string{"reason"},
	)
	CampaignSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsd_campaign_send_total", Help: "Campaign recipient outcomes"},
		[]string{"result"},
	)
	Suppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsd_suppressed_total", Help: "Sends blocked by the compliance gate"},
		[]string{"reason"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsd_webhook_events_total", Help: "Gateway delivery callbacks"},
		[]string{"status"},
	)
	BillingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsd_billing_events_total", Help: "Usage events recorded"},
		[]string{"source"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Sends, GatewayLatency, QueueDepth, QueueDropped,
		CampaignSends, Suppressed, WebhookEvents, BillingEvents)
}
