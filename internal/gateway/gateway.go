package gateway

import (
	"context"
	"time"
)

// Gateway is the abstract outbound SMS provider: submit one message, get
// back a provider message id and an initial status. Delivery progress
// arrives later through status callbacks.
type Gateway interface {
	Send(ctx context.Context, in SendInput) (SendOutput, error)
}

type SendInput struct {
	To                string
	From              string
	Body              string
	StatusCallbackURL string
}

type SendOutput struct {
	ExternalID string
	Status     string
	Segments   int
}

// HistoryLister exposes the provider's message log for the historical
// compliance sync.
type HistoryLister interface {
	ListMessages(ctx context.Context, since time.Time) ([]HistoryMessage, error)
}

// HistoryMessage is one entry of provider history, inbound or outbound.
type HistoryMessage struct {
	To        string
	From      string
	Body      string
	Status    string
	ErrorCode int
	Direction string // "inbound" or "outbound-*"
	SentAt    time.Time
}

func (m HistoryMessage) Inbound() bool {
	return m.Direction == "inbound"
}
