package constants

// Route prefixes shared by the router and its tests
const (
	APIRoute          = "/api"
	APIV1Route        = "/v1"
	AdminBillingRoute = "/admin/billing"
	StripeWebhook     = "/webhooks/stripe"
	MetricsRoute      = "/metrics"
	HealthRoute       = "/healthz"
)
