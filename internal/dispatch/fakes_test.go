package dispatch

import (
	"context"
	"sync"
	"time"

	"smsdispatch/internal/billing"
	"smsdispatch/internal/compliance"
	"smsdispatch/internal/crm"
	"smsdispatch/internal/domain"
	"smsdispatch/internal/gateway"
	"smsdispatch/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	tracking  []store.TrackingInsert
	progress  []store.CampaignProgress
	statuses  map[string]domain.CampaignStatus
	campaigns map[string]store.CampaignRow

	// cancelAfter flips GetCampaign to cancelled once this many tracking
	// rows exist; 0 disables
	cancelAfter int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses:  make(map[string]domain.CampaignStatus),
		campaigns: make(map[string]store.CampaignRow),
	}
}

func (f *fakeStore) InsertTracking(ctx context.Context, in store.TrackingInsert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracking = append(f.tracking, in)
	return nil
}

func (f *fakeStore) GetCampaign(ctx context.Context, id string) (store.CampaignRow, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.campaigns[id]
	if !ok {
		row = store.CampaignRow{ID: id, Status: domain.CampaignSending}
	}
	if st, ok := f.statuses[id]; ok {
		row.Status = st
	}
	if f.cancelAfter > 0 && len(f.tracking) >= f.cancelAfter {
		row.Status = domain.CampaignCancelled
	}
	return row, true, nil
}

func (f *fakeStore) UpdateCampaignProgress(ctx context.Context, in store.CampaignProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, in)
	return nil
}

func (f *fakeStore) SetCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeStore) trackingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracking)
}

func (f *fakeStore) lastProgress() (store.CampaignProgress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.progress) == 0 {
		return store.CampaignProgress{}, false
	}
	return f.progress[len(f.progress)-1], true
}

func (f *fakeStore) status(id string) domain.CampaignStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

type fakeGate struct {
	denied map[string]string // normalized phone -> reason
}

func (f *fakeGate) IsAllowed(ctx context.Context, tenantID, phone, consumerID string) compliance.Decision {
	if reason, ok := f.denied[phone]; ok {
		return compliance.Decision{Allowed: false, Reason: reason}
	}
	return compliance.Decision{Allowed: true}
}

type fakeGateway struct {
	mu    sync.Mutex
	sends []gateway.SendInput
	err   error
	out   gateway.SendOutput
	seq   int
}

func (f *fakeGateway) Send(ctx context.Context, in gateway.SendInput) (gateway.SendOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return gateway.SendOutput{}, f.err
	}
	f.sends = append(f.sends, in)
	f.seq++
	out := f.out
	if out.ExternalID == "" {
		out = gateway.SendOutput{ExternalID: "SMfake", Status: "queued", Segments: 1}
	}
	return out, nil
}

func (f *fakeGateway) sent() []gateway.SendInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.SendInput(nil), f.sends...)
}

type fakeResolver struct {
	gw   *fakeGateway
	from string
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, tenantID string) (gateway.Gateway, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.gw, nil
}

func (f *fakeResolver) SenderNumber(ctx context.Context, tenantID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.from == "" {
		return "+15550001111", nil
	}
	return f.from, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []billing.UsageEvent
}

func (f *fakeRecorder) Record(ctx context.Context, ev billing.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRecorder) recorded() []billing.UsageEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]billing.UsageEvent(nil), f.events...)
}

type fakeNotes struct {
	mu    sync.Mutex
	notes []crm.Note
}

func (f *fakeNotes) WriteNote(ctx context.Context, n crm.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
	return nil
}
