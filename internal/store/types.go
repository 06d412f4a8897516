package store

import (
	"time"

	"smsdispatch/internal/domain"
)

type TrackingInsert struct {
	ID           string
	TenantID     string
	CampaignID   string
	ConsumerID   string
	AccountID    string
	Phone        string
	Body         string
	Status       domain.TrackingStatus
	ErrorMessage string
	ExternalID   string
	SentAt       time.Time
}

// TrackingStatusUpdate is applied from gateway delivery callbacks, keyed by
// the provider message id.
type TrackingStatusUpdate struct {
	ExternalID string
	Status     domain.TrackingStatus
	ErrorCode  string
	Now        time.Time
}

type CampaignRow struct {
	ID            string                `json:"id"`
	TenantID      string                `json:"tenantId"`
	Status        domain.CampaignStatus `json:"status"`
	TotalSent     int                   `json:"totalSent"`
	TotalErrors   int                   `json:"totalErrors"`
	LastSentIndex int                   `json:"lastSentIndex"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

type CampaignProgress struct {
	ID            string
	LastSentIndex int
	TotalSent     int
	TotalErrors   int
	Now           time.Time
}

type BlockedNumberInsert struct {
	TenantID   string
	Phone      string // digits only
	Reason     domain.BlockReason
	SourceCode string
	Note       string
	Now        time.Time
}

// TenantGatewayConfig is the per-tenant slice of the tenant config store the
// engine cares about. Zero-value credential fields mean "fall back to the
// shared default client".
type TenantGatewayConfig struct {
	AccountID     string
	AuthToken     string
	FromNumber    string
	RatePerMinute int
}

type DeliveryEventInsert struct {
	ExternalID string
	Status     string
	ErrorCode  string
	Payload    any
	OccurredAt time.Time
}
