package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smsdispatch/internal/billing"
	"smsdispatch/internal/domain"
	"smsdispatch/internal/observability"
	"smsdispatch/internal/store"
)

// DeliveryStore is the slice of storage the delivery pipeline needs.
type DeliveryStore interface {
	InsertDeliveryEvent(ctx context.Context, in store.DeliveryEventInsert) error
	UpdateTrackingByExternalID(ctx context.Context, in store.TrackingStatusUpdate) (tenantID string, found bool, err error)
}

// DeliveryUpdate is one gateway status callback, decoded off the queue.
// Payload carries the raw callback form fields for audit.
type DeliveryUpdate struct {
	ExternalID string
	Status     string
	ErrorCode  string
	Segments   int
	Payload    map[string]string
	ReceivedAt time.Time
}

// statusFromGateway maps gateway callback states onto our tracking
// lifecycle. Intermediate states we don't track map to empty.
func statusFromGateway(s string) domain.TrackingStatus {
	switch s {
	case "sent":
		return domain.StatusSent
	case "delivered":
		return domain.StatusDelivered
	case "failed":
		return domain.StatusFailed
	case "undelivered":
		return domain.StatusUndelivered
	default:
		return ""
	}
}

// ApplyDeliveryEvent records the raw event, advances the tracking record it
// belongs to, and on confirmed delivery emits the authoritative billing
// event with the gateway's final segment count.
func ApplyDeliveryEvent(ctx context.Context, st DeliveryStore, recorder billing.Recorder, up DeliveryUpdate) error {
	if up.ReceivedAt.IsZero() {
		up.ReceivedAt = time.Now().UTC()
	}

	if err := st.InsertDeliveryEvent(ctx, store.DeliveryEventInsert{
		ExternalID: up.ExternalID,
		Status:     up.Status,
		ErrorCode:  up.ErrorCode,
		Payload:    up.Payload,
		OccurredAt: up.ReceivedAt,
	}); err != nil {
		return fmt.Errorf("recording delivery event: %w", err)
	}

	status := statusFromGateway(up.Status)
	if status == "" {
		// queued/accepted etc: event stored for audit, nothing to advance
		observability.WebhookEvents.WithLabelValues("ignored").Inc()
		return nil
	}

	tenantID, found, err := st.UpdateTrackingByExternalID(ctx, store.TrackingStatusUpdate{
		ExternalID: up.ExternalID,
		Status:     status,
		ErrorCode:  up.ErrorCode,
		Now:        up.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("updating tracking %s: %w", up.ExternalID, err)
	}
	if !found {
		// callback raced ahead of the tracking insert, or references a
		// message we never sent
		slog.Warn("delivery event for unknown message", "external_id", up.ExternalID, "status", up.Status)
		observability.WebhookEvents.WithLabelValues("unmatched").Inc()
		return nil
	}

	if status == domain.StatusDelivered && recorder != nil {
		segments := up.Segments
		if segments < 1 {
			segments = 1
		}
		if err := recorder.Record(ctx, billing.UsageEvent{
			TenantID:   tenantID,
			Provider:   "sms_gateway",
			Type:       "sms",
			Quantity:   segments,
			ExternalID: up.ExternalID,
			Source:     billing.SourceWebhook,
			OccurredAt: up.ReceivedAt,
		}); err != nil {
			// billing reconciles against tracking later, don't fail the event
			slog.Error("webhook billing record failed", "err", err, "external_id", up.ExternalID)
		} else {
			observability.BillingEvents.WithLabelValues(billing.SourceWebhook).Inc()
		}
	}

	observability.WebhookEvents.WithLabelValues("applied").Inc()
	return nil
}
