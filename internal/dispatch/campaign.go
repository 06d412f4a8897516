package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"smsdispatch/internal/domain"
	"smsdispatch/internal/observability"
	"smsdispatch/internal/store"
	"smsdispatch/internal/util"
)

type Recipient struct {
	Phone      string            `json:"phone"`
	ConsumerID string            `json:"consumerId,omitempty"`
	AccountID  string            `json:"accountId,omitempty"`
	Vars       map[string]string `json:"vars,omitempty"`
}

// CampaignRun describes one start/resume call: StartIndex is 0 for a fresh
// run or the persisted lastSentIndex for a resume.
type CampaignRun struct {
	CampaignID string
	TenantID   string
	Template   string
	Recipients []Recipient
	StartIndex int
}

type RunResult struct {
	Sent         int  `json:"sent"`
	Errors       int  `json:"errors"`
	Skipped      int  `json:"skipped"`
	LastIndex    int  `json:"lastIndex"`
	WasCancelled bool `json:"wasCancelled"`
}

// StartCampaign claims the campaign and runs it on a background goroutine
// tied to the engine's base context, so process shutdown checkpoints and
// stops the loop.
func (e *Engine) StartCampaign(run CampaignRun) error {
	if e.ctx == nil {
		return ErrEngineNotStarted
	}
	if !e.claimRun(run.CampaignID) {
		return ErrCampaignAlreadyRunning
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.releaseRun(run.CampaignID)

		res, err := e.runCampaign(e.ctx, run)
		if err != nil {
			slog.Error("campaign run stopped", "err", err, "campaign_id", run.CampaignID, "last_index", res.LastIndex)
			return
		}
		slog.Info("campaign run finished",
			"campaign_id", run.CampaignID,
			"sent", res.Sent,
			"errors", res.Errors,
			"skipped", res.Skipped,
			"cancelled", res.WasCancelled,
		)
	}()
	return nil
}

// RunCampaign is the synchronous form of StartCampaign.
func (e *Engine) RunCampaign(ctx context.Context, run CampaignRun) (RunResult, error) {
	if !e.claimRun(run.CampaignID) {
		return RunResult{}, ErrCampaignAlreadyRunning
	}
	defer e.releaseRun(run.CampaignID)
	return e.runCampaign(ctx, run)
}

// runCampaign drives recipients in order from StartIndex under the tenant's
// rate limit. Cancellation is cooperative: the loop stops at the next
// checkpoint, never mid-send, and progress is persisted so a restart
// resumes from lastSentIndex instead of re-sending.
func (e *Engine) runCampaign(ctx context.Context, run CampaignRun) (RunResult, error) {
	if run.StartIndex < 0 {
		run.StartIndex = 0
	}

	if err := e.store.SetCampaignStatus(ctx, run.CampaignID, domain.CampaignSending, util.NowUTC()); err != nil {
		return RunResult{}, fmt.Errorf("marking campaign sending: %w", err)
	}
	// the durable status is authoritative: now that the row says sending,
	// drop any cancel mark left behind by an earlier run so a resume is not
	// cancelled on its first iteration
	e.cancels.remove(run.CampaignID)

	limit := e.limiter.LimitFor(run.TenantID)
	// smooth sends to the configured rate on top of reservation checks, so
	// a fresh window is not burned in one burst
	pacer := rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit)), 1)

	res := RunResult{LastIndex: run.StartIndex}
	lastCheckpointed := run.StartIndex
	lastPersist := e.now()
	var lastStatusCheck time.Time

	// cancelled combines the in-process flag with a periodic durable-status
	// read, so a cancel issued on another replica lands within ~2s.
	cancelled := func() bool {
		now := e.now()
		if e.cancels.contains(run.CampaignID, now) {
			return true
		}
		if now.Sub(lastStatusCheck) < e.statusCheckInterval {
			return false
		}
		lastStatusCheck = now
		row, found, err := e.store.GetCampaign(ctx, run.CampaignID)
		if err != nil {
			slog.Error("campaign status check failed", "err", err, "campaign_id", run.CampaignID)
			return false
		}
		if found && row.Status == domain.CampaignCancelled {
			e.cancels.add(run.CampaignID, now)
			return true
		}
		return false
	}

	checkpoint := func() {
		if err := e.store.UpdateCampaignProgress(ctx, store.CampaignProgress{
			ID:            run.CampaignID,
			LastSentIndex: res.LastIndex,
			TotalSent:     res.Sent,
			TotalErrors:   res.Errors,
			Now:           util.NowUTC(),
		}); err != nil {
			// losing a checkpoint only risks re-sending the unpersisted
			// tail after a crash; keep the loop alive
			slog.Error("campaign progress checkpoint failed", "err", err, "campaign_id", run.CampaignID, "last_index", res.LastIndex)
			return
		}
		lastCheckpointed = res.LastIndex
		lastPersist = e.now()
	}

	finish := func(status domain.CampaignStatus) {
		checkpoint()
		if err := e.store.SetCampaignStatus(ctx, run.CampaignID, status, util.NowUTC()); err != nil {
			slog.Error("campaign status update failed", "err", err, "campaign_id", run.CampaignID, "status", status)
		}
	}

	for i := run.StartIndex; i < len(run.Recipients); i++ {
		if ctx.Err() != nil {
			checkpoint()
			return res, ctx.Err()
		}
		if cancelled() {
			res.WasCancelled = true
			finish(domain.CampaignCancelled)
			return res, nil
		}

		rcpt := run.Recipients[i]
		if d := e.gate.IsAllowed(ctx, run.TenantID, rcpt.Phone, rcpt.ConsumerID); !d.Allowed {
			// neither sent nor an error, just skipped
			res.Skipped++
			res.LastIndex = i + 1
			observability.Suppressed.WithLabelValues(d.Reason).Inc()
			observability.CampaignSends.WithLabelValues("skipped").Inc()
			continue
		}

		// wait out a throttle stall without going deaf to cancellation
		for !e.limiter.TryReserve(run.TenantID) {
			if cancelled() {
				res.WasCancelled = true
				finish(domain.CampaignCancelled)
				return res, nil
			}
			select {
			case <-ctx.Done():
				checkpoint()
				return res, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}

		out := e.dispatchReserved(ctx, domain.SendRequest{
			TenantID:   run.TenantID,
			To:         rcpt.Phone,
			Body:       util.RenderTemplate(run.Template, rcpt.Vars),
			CampaignID: run.CampaignID,
			ConsumerID: rcpt.ConsumerID,
			AccountID:  rcpt.AccountID,
		})
		switch out.Outcome {
		case domain.OutcomeSent:
			res.Sent++
			observability.CampaignSends.WithLabelValues("sent").Inc()
		case domain.OutcomeQueued:
			// breaker open; the drainer owns it now
			observability.CampaignSends.WithLabelValues("deferred").Inc()
		default:
			res.Errors++
			observability.CampaignSends.WithLabelValues("error").Inc()
		}
		res.LastIndex = i + 1

		if res.LastIndex-lastCheckpointed >= e.checkpointEvery || e.now().Sub(lastPersist) >= 5*time.Second {
			checkpoint()
		}

		if err := pacer.Wait(ctx); err != nil {
			checkpoint()
			return res, err
		}
	}

	final := domain.CampaignCompleted
	if res.Sent == 0 && res.Errors > 0 {
		final = domain.CampaignFailed
	}
	finish(final)
	return res, nil
}
