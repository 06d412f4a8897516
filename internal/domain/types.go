package domain

import "errors"

// TrackingStatus mirrors the lifecycle the gateway reports back for a
// message: we record "sent" on a successful submit and let delivery
// callbacks move it forward.
type TrackingStatus string

const (
	StatusQueued      TrackingStatus = "queued"
	StatusSent        TrackingStatus = "sent"
	StatusDelivered   TrackingStatus = "delivered"
	StatusFailed      TrackingStatus = "failed"
	StatusUndelivered TrackingStatus = "undelivered"
)

type CampaignStatus string

const (
	CampaignSending   CampaignStatus = "sending"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

type BlockReason string

const (
	BlockOptedOut      BlockReason = "opted_out"
	BlockUndeliverable BlockReason = "undeliverable"
)

// SendRequest is one outbound message. It is never persisted as-is: it is
// either dispatched immediately or handed to the overflow queue.
type SendRequest struct {
	TenantID   string            `json:"tenantId"`
	To         string            `json:"to"`
	Body       string            `json:"body"`
	CampaignID string            `json:"campaignId,omitempty"`
	ConsumerID string            `json:"consumerId,omitempty"`
	AccountID  string            `json:"accountId,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (r SendRequest) Validate() error {
	if r.TenantID == "" || r.To == "" || r.Body == "" {
		return ErrMissingFields
	}
	return nil
}

var ErrMissingFields = errors.New("missing required fields")

// SendOutcome classifies one immediate-send attempt. Blocked and queued are
// not failures: blocked is a compliance result, and queued sends are retried
// by the drainer once capacity frees up.
type SendOutcome string

const (
	OutcomeSent    SendOutcome = "sent"
	OutcomeQueued  SendOutcome = "queued"
	OutcomeBlocked SendOutcome = "blocked"
	OutcomeFailed  SendOutcome = "failed"
)

type SendResult struct {
	Outcome    SendOutcome `json:"outcome"`
	TrackingID string      `json:"trackingId,omitempty"`
	ExternalID string      `json:"externalId,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Error      string      `json:"error,omitempty"`
}
