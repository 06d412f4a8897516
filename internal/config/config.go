package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// APIConfig drives the engine process: HTTP API, overflow drainer, and the
// per-tenant throttle defaults.
type APIConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// DB pool tuning
	DBPoolMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"0"`
	DBPoolMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`

	// throttling
	DefaultRatePerMinute int           `envconfig:"DEFAULT_RATE_PER_MINUTE" default:"10"`
	RateSweepInterval    time.Duration `envconfig:"RATE_SWEEP_INTERVAL" default:"60s"`

	// overflow queue / drainer
	DrainInterval time.Duration `envconfig:"DRAIN_INTERVAL" default:"10s"`
	QueueMaxAge   time.Duration `envconfig:"QUEUE_MAX_AGE" default:"1h"`

	// campaigns
	CampaignCheckpointEvery int           `envconfig:"CAMPAIGN_CHECKPOINT_EVERY" default:"10"`
	CampaignStatusInterval  time.Duration `envconfig:"CAMPAIGN_STATUS_INTERVAL" default:"2s"`

	// SMS gateway (legacy single-tenant fallback credentials)
	GatewayBaseURL          string `envconfig:"GATEWAY_BASE_URL" default:"https://api.twilio.com"`
	DefaultGatewayAccountID string `envconfig:"DEFAULT_GATEWAY_ACCOUNT_ID"`
	DefaultGatewayAuthToken string `envconfig:"DEFAULT_GATEWAY_AUTH_TOKEN"`
	DefaultFromNumber       string `envconfig:"DEFAULT_FROM_NUMBER"`

	// Delivery callbacks. A placeholder here (e.g. "https://*.example.com")
	// means the callback is omitted from outbound sends.
	StatusCallbackBaseURL string `envconfig:"STATUS_CALLBACK_BASE_URL"`
}

// WebhookConfig drives the public callback receiver. It is stateless: it
// verifies signatures and forwards events onto SQS.
type WebhookConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	GatewayAuthToken string `envconfig:"DEFAULT_GATEWAY_AUTH_TOKEN" required:"true"`
	PublicWebhookURL string `envconfig:"PUBLIC_WEBHOOK_URL" required:"true"` // must match the EXACT URL registered with the gateway

	AWSRegion             string `envconfig:"AWS_REGION" required:"true"`
	DeliveryEventQueueURL string `envconfig:"DELIVERY_EVENT_QUEUE_URL" required:"true"`
	LocalstackEndpoint    string `envconfig:"LOCALSTACK_ENDPOINT"`
}

// WebhookProcessorConfig drives the SQS consumer that applies delivery
// events to tracking records and records webhook-confirmed billing.
type WebhookProcessorConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DBPoolMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"0"`
	DBPoolMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`

	AWSRegion             string `envconfig:"AWS_REGION" required:"true"`
	DeliveryEventQueueURL string `envconfig:"DELIVERY_EVENT_QUEUE_URL" required:"true"`
	LocalstackEndpoint    string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime           int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs            int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout         int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`
	ProcessorConcurrency  int    `envconfig:"PROCESSOR_CONCURRENCY" default:"10"`
}

// SyncConfig drives the one-shot historical compliance sync job.
type SyncConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	TenantID string `envconfig:"TENANT_ID" required:"true"`
	DaysBack int    `envconfig:"DAYS_BACK" default:"30"`

	GatewayBaseURL          string `envconfig:"GATEWAY_BASE_URL" default:"https://api.twilio.com"`
	DefaultGatewayAccountID string `envconfig:"DEFAULT_GATEWAY_ACCOUNT_ID"`
	DefaultGatewayAuthToken string `envconfig:"DEFAULT_GATEWAY_AUTH_TOKEN"`
	DefaultFromNumber       string `envconfig:"DEFAULT_FROM_NUMBER"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhookProcessor() WebhookProcessorConfig {
	var cfg WebhookProcessorConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadSync() SyncConfig {
	var cfg SyncConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
