package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"smsdispatch/internal/billing"
	"smsdispatch/internal/crm"
	"smsdispatch/internal/domain"
	"smsdispatch/internal/gateway"
	"smsdispatch/internal/observability"
	"smsdispatch/internal/store"
	"smsdispatch/internal/util"
)

// Send performs one immediate send: compliance gate, rate reservation (or
// overflow queue), gateway call, tracking/billing/CRM side effects. Failures
// come back as a structured result, never an error to the HTTP layer.
func (e *Engine) Send(ctx context.Context, req domain.SendRequest) domain.SendResult {
	if d := e.gate.IsAllowed(ctx, req.TenantID, req.To, req.ConsumerID); !d.Allowed {
		observability.Suppressed.WithLabelValues(d.Reason).Inc()
		observability.Sends.WithLabelValues(string(domain.OutcomeBlocked)).Inc()
		return domain.SendResult{Outcome: domain.OutcomeBlocked, Reason: d.Reason}
	}

	if !e.limiter.TryReserve(req.TenantID) {
		e.queue.enqueue(req, e.now())
		observability.QueueDepth.Set(float64(e.queue.depth()))
		observability.Sends.WithLabelValues(string(domain.OutcomeQueued)).Inc()
		return domain.SendResult{Outcome: domain.OutcomeQueued, Reason: "rate_limited"}
	}

	return e.dispatchReserved(ctx, req)
}

// dispatchReserved performs the gateway call while holding one rate-window
// reservation, rolling it back if nothing actually went out.
func (e *Engine) dispatchReserved(ctx context.Context, req domain.SendRequest) domain.SendResult {
	gw, err := e.resolver.Resolve(ctx, req.TenantID)
	if err != nil {
		e.limiter.Release(req.TenantID)
		return e.recordFailure(ctx, req, err)
	}
	from, err := e.resolver.SenderNumber(ctx, req.TenantID)
	if err != nil {
		e.limiter.Release(req.TenantID)
		return e.recordFailure(ctx, req, err)
	}

	start := time.Now()
	out, err := e.sendViaBreaker(ctx, gw, gateway.SendInput{
		To:                req.To,
		From:              from,
		Body:              req.Body,
		StatusCallbackURL: e.callbackURL,
	})
	if err != nil {
		e.limiter.Release(req.TenantID)

		// Breaker open is provider protection, not a verdict on this
		// message: hand it to the drainer instead of tracking a failure.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			e.queue.enqueue(req, e.now())
			observability.QueueDepth.Set(float64(e.queue.depth()))
			observability.Sends.WithLabelValues(string(domain.OutcomeQueued)).Inc()
			return domain.SendResult{Outcome: domain.OutcomeQueued, Reason: "gateway_unavailable"}
		}
		return e.recordFailure(ctx, req, err)
	}
	observability.GatewayLatency.Observe(time.Since(start).Seconds())

	trackingID := util.NewTrackingID()
	now := e.now().UTC()

	status := domain.StatusSent
	if out.Status == "queued" || out.Status == "accepted" {
		status = domain.StatusQueued
	}
	if err := e.store.InsertTracking(ctx, store.TrackingInsert{
		ID:         trackingID,
		TenantID:   req.TenantID,
		CampaignID: req.CampaignID,
		ConsumerID: req.ConsumerID,
		AccountID:  req.AccountID,
		Phone:      req.To,
		Body:       req.Body,
		Status:     status,
		ExternalID: out.ExternalID,
		SentAt:     now,
	}); err != nil {
		// message is already out; losing the record is worth surfacing loudly
		slog.Error("tracking insert failed after send", "err", err, "tenant_id", req.TenantID, "external_id", out.ExternalID)
	}

	segments := out.Segments
	if segments < 1 {
		segments = 1
	}
	if err := e.billing.Record(ctx, billing.UsageEvent{
		TenantID:   req.TenantID,
		Provider:   "sms_gateway",
		Type:       "sms",
		Quantity:   segments,
		ExternalID: out.ExternalID,
		Source:     billing.SourceSendFallback,
		OccurredAt: now,
		Metadata:   req.Metadata,
	}); err != nil {
		slog.Error("usage event record failed", "err", err, "tenant_id", req.TenantID, "external_id", out.ExternalID)
	} else {
		observability.BillingEvents.WithLabelValues(billing.SourceSendFallback).Inc()
	}

	if e.notes != nil && (req.ConsumerID != "" || req.AccountID != "") {
		if err := e.notes.WriteNote(ctx, crm.Note{
			TenantID:   req.TenantID,
			ConsumerID: req.ConsumerID,
			AccountID:  req.AccountID,
			Body:       "SMS sent: " + req.Body,
			CreatedAt:  now,
		}); err != nil {
			slog.Warn("crm note write failed", "err", err, "tenant_id", req.TenantID, "consumer_id", req.ConsumerID)
		}
	}

	observability.Sends.WithLabelValues(string(domain.OutcomeSent)).Inc()
	return domain.SendResult{Outcome: domain.OutcomeSent, TrackingID: trackingID, ExternalID: out.ExternalID}
}

// recordFailure writes the failed tracking record and returns the result.
// Gateway failures are not retried here; campaign-level retry is the
// caller's decision.
func (e *Engine) recordFailure(ctx context.Context, req domain.SendRequest, cause error) domain.SendResult {
	trackingID := util.NewTrackingID()
	if err := e.store.InsertTracking(ctx, store.TrackingInsert{
		ID:           trackingID,
		TenantID:     req.TenantID,
		CampaignID:   req.CampaignID,
		ConsumerID:   req.ConsumerID,
		AccountID:    req.AccountID,
		Phone:        req.To,
		Body:         req.Body,
		Status:       domain.StatusFailed,
		ErrorMessage: cause.Error(),
		SentAt:       e.now().UTC(),
	}); err != nil {
		slog.Error("tracking insert failed for failed send", "err", err, "tenant_id", req.TenantID)
	}
	observability.Sends.WithLabelValues(string(domain.OutcomeFailed)).Inc()
	return domain.SendResult{Outcome: domain.OutcomeFailed, TrackingID: trackingID, Error: cause.Error()}
}

func (e *Engine) sendViaBreaker(ctx context.Context, gw gateway.Gateway, in gateway.SendInput) (gateway.SendOutput, error) {
	call := func() (any, error) {
		reqCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
		defer cancel()
		return gw.Send(reqCtx, in)
	}

	if e.breaker == nil {
		out, err := call()
		if err != nil {
			return gateway.SendOutput{}, err
		}
		return out.(gateway.SendOutput), nil
	}

	out, err := e.breaker.Execute(call)
	if err != nil {
		return gateway.SendOutput{}, err
	}
	return out.(gateway.SendOutput), nil
}
