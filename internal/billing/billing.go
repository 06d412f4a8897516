package billing

import (
	"context"
	"time"
)

// Source discriminates how a usage event was produced so the two records
// for one message (optimistic at send time, accurate from the delivery
// callback) can be reconciled downstream instead of double counting
// silently.
const (
	SourceSendFallback = "send_fallback"
	SourceWebhook      = "webhook"
)

type UsageEvent struct {
	TenantID   string
	Provider   string
	Type       string // "sms"
	Quantity   int    // segment count
	ExternalID string
	Source     string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Recorder is fire-and-forget from the sender's point of view: a failed
// usage write must never fail the send.
type Recorder interface {
	Record(ctx context.Context, ev UsageEvent) error
}
