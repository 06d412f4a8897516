package crm

import (
	"context"
	"time"
)

type Note struct {
	TenantID   string
	ConsumerID string
	AccountID  string
	Body       string
	CreatedAt  time.Time
}

// NoteWriter records an activity note against the consumer/account after a
// send. Best effort: failures are logged by the caller, never propagated.
type NoteWriter interface {
	WriteNote(ctx context.Context, n Note) error
}
