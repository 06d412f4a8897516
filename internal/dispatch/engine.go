package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"smsdispatch/internal/billing"
	"smsdispatch/internal/compliance"
	"smsdispatch/internal/crm"
	"smsdispatch/internal/domain"
	"smsdispatch/internal/gateway"
	"smsdispatch/internal/ratelimit"
	"smsdispatch/internal/store"
)

// Store is the slice of the persistent store the engine needs.
type Store interface {
	InsertTracking(ctx context.Context, in store.TrackingInsert) error
	GetCampaign(ctx context.Context, id string) (store.CampaignRow, bool, error)
	UpdateCampaignProgress(ctx context.Context, in store.CampaignProgress) error
	SetCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus, now time.Time) error
}

type ComplianceGate interface {
	IsAllowed(ctx context.Context, tenantID, phone, consumerID string) compliance.Decision
}

type GatewayResolver interface {
	Resolve(ctx context.Context, tenantID string) (gateway.Gateway, error)
	SenderNumber(ctx context.Context, tenantID string) (string, error)
}

type Options struct {
	Store    Store
	Gate     ComplianceGate
	Limiter  *ratelimit.Limiter
	Resolver GatewayResolver
	Billing  billing.Recorder
	Notes    crm.NoteWriter
	Breaker  *gobreaker.CircuitBreaker

	// CallbackBaseURL is where the gateway should post delivery status.
	// A placeholder value (wildcard) disables callbacks entirely.
	CallbackBaseURL string

	QueueMaxAge         time.Duration
	CheckpointEvery     int
	StatusCheckInterval time.Duration
}

// Engine is the single dispatch instance for the process: it owns the rate
// windows, the overflow queue, the in-process campaign cancel set, and the
// one-runner-per-campaign guard. Constructed once and injected into the
// HTTP handlers.
type Engine struct {
	store    Store
	gate     ComplianceGate
	limiter  *ratelimit.Limiter
	resolver GatewayResolver
	billing  billing.Recorder
	notes    crm.NoteWriter
	breaker  *gobreaker.CircuitBreaker

	callbackURL string

	queue   *overflowQueue
	cancels *cancelSet

	mu       sync.Mutex
	running  map[string]bool
	draining atomic.Bool

	checkpointEvery     int
	statusCheckInterval time.Duration

	ctx context.Context
	wg  sync.WaitGroup
	now func() time.Time
}

var (
	ErrEngineNotStarted       = errors.New("engine not started")
	ErrCampaignAlreadyRunning = errors.New("campaign run already in progress")
)

func New(opts Options) *Engine {
	if opts.QueueMaxAge <= 0 {
		opts.QueueMaxAge = time.Hour
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 10
	}
	if opts.StatusCheckInterval <= 0 {
		opts.StatusCheckInterval = 2 * time.Second
	}

	e := &Engine{
		store:               opts.Store,
		gate:                opts.Gate,
		limiter:             opts.Limiter,
		resolver:            opts.Resolver,
		billing:             opts.Billing,
		notes:               opts.Notes,
		breaker:             opts.Breaker,
		callbackURL:         callbackURL(opts.CallbackBaseURL),
		queue:               newOverflowQueue(opts.QueueMaxAge),
		cancels:             newCancelSet(time.Hour),
		running:             make(map[string]bool),
		checkpointEvery:     opts.CheckpointEvery,
		statusCheckInterval: opts.StatusCheckInterval,
		now:                 time.Now,
	}
	return e
}

// Start launches the background drainer and adopts ctx as the base context
// for detached campaign runs.
func (e *Engine) Start(ctx context.Context, drainInterval time.Duration) {
	e.ctx = ctx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runDrainer(ctx, drainInterval)
	}()
}

// Shutdown waits for the drainer and any in-flight campaign runs to reach
// their next checkpoint and exit. Call after cancelling the Start context.
func (e *Engine) Shutdown() {
	e.wg.Wait()
}

// QueueDepth reports how many sends wait in the overflow queue.
func (e *Engine) QueueDepth() int {
	return e.queue.depth()
}

func (e *Engine) claimRun(campaignID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[campaignID] {
		return false
	}
	e.running[campaignID] = true
	return true
}

func (e *Engine) releaseRun(campaignID string) {
	e.mu.Lock()
	delete(e.running, campaignID)
	e.mu.Unlock()
}

// callbackURL builds the status-callback URL from the configured base. A
// base containing a wildcard/placeholder would reach the gateway malformed,
// so the callback is omitted instead; sends still succeed without it.
func callbackURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	if strings.ContainsAny(base, "*{}") {
		slog.Warn("status callback base URL contains a placeholder, delivery callbacks disabled", "base_url", base)
		return ""
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		slog.Warn("status callback base URL is malformed, delivery callbacks disabled", "base_url", base)
		return ""
	}
	return base + "/v1/webhooks/gateway/status"
}
