package dispatch

import (
	"context"
	"log/slog"
	"time"

	"smsdispatch/internal/domain"
	"smsdispatch/internal/observability"
	"smsdispatch/internal/util"
)

// runDrainer retries overflowed sends on a fixed interval until ctx is
// cancelled.
func (e *Engine) runDrainer(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("overflow drainer started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("overflow drainer stopped", "queued", e.queue.depth())
			return
		case <-ticker.C:
			e.drainOnce(ctx)
		}
	}
}

// drainOnce walks the queue once under a single-flight guard: overlapping
// drains from a slow tick could double-send, so a tick that finds a drain
// in progress is a no-op.
func (e *Engine) drainOnce(ctx context.Context) {
	if !e.draining.CompareAndSwap(false, true) {
		return
	}
	defer e.draining.Store(false)

	now := e.now()
	e.cancels.sweep(now)

	entries := e.queue.takeAll()
	if len(entries) == 0 {
		observability.QueueDepth.Set(0)
		return
	}

	var keep []queuedSend
	for _, qs := range entries {
		if ctx.Err() != nil {
			keep = append(keep, qs)
			continue
		}
		if e.queue.stale(qs, now) {
			observability.QueueDropped.WithLabelValues("stale").Inc()
			slog.Warn("dropping stale queued send", "tenant_id", qs.req.TenantID, "enqueued_at", qs.enqueuedAt)
			continue
		}
		if qs.req.CampaignID != "" && e.cancels.contains(qs.req.CampaignID, now) {
			observability.QueueDropped.WithLabelValues("cancelled").Inc()
			continue
		}
		if !e.limiter.TryReserve(qs.req.TenantID) {
			keep = append(keep, qs)
			continue
		}

		res := e.dispatchReserved(ctx, qs.req)
		if res.Outcome == domain.OutcomeFailed {
			// tracked as failed; the queue does not retry hard failures
			observability.QueueDropped.WithLabelValues("failed").Inc()
		}
	}

	e.queue.pushFront(keep)
	observability.QueueDepth.Set(float64(e.queue.depth()))
}

// CancelCampaign durably marks the campaign cancelled, flips the in-process
// flag the drainer and campaign loops poll, and synchronously purges any
// queued sends for it. Returns the purged count.
func (e *Engine) CancelCampaign(ctx context.Context, campaignID string) (int, error) {
	now := util.NowUTC()
	if err := e.store.SetCampaignStatus(ctx, campaignID, domain.CampaignCancelled, now); err != nil {
		return 0, err
	}
	e.cancels.add(campaignID, e.now())

	purged := e.queue.purgeCampaign(campaignID)
	observability.QueueDepth.Set(float64(e.queue.depth()))

	slog.Info("campaign cancelled", "campaign_id", campaignID, "purged", purged)
	return purged, nil
}
