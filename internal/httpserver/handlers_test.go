package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsdispatch/internal/billing"
	"smsdispatch/internal/compliance"
	"smsdispatch/internal/dispatch"
	"smsdispatch/internal/domain"
	"smsdispatch/internal/gateway"
	"smsdispatch/internal/observability"
	"smsdispatch/internal/ratelimit"
	"smsdispatch/internal/store"
)

// apiStore backs both the HTTP layer's CampaignStore and the engine's Store.
type apiStore struct {
	mu        sync.Mutex
	campaigns map[string]store.CampaignRow
}

func newAPIStore() *apiStore {
	return &apiStore{campaigns: make(map[string]store.CampaignRow)}
}

func (s *apiStore) EnsureCampaign(ctx context.Context, id, tenantID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; !ok {
		s.campaigns[id] = store.CampaignRow{ID: id, TenantID: tenantID, CreatedAt: now}
	}
	return nil
}

func (s *apiStore) GetCampaign(ctx context.Context, id string) (store.CampaignRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.campaigns[id]
	return row, ok, nil
}

func (s *apiStore) InsertTracking(ctx context.Context, in store.TrackingInsert) error { return nil }

func (s *apiStore) UpdateCampaignProgress(ctx context.Context, in store.CampaignProgress) error {
	return nil
}

func (s *apiStore) SetCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.campaigns[id]
	row.ID = id
	row.Status = status
	s.campaigns[id] = row
	return nil
}

type allowAllGate struct{}

func (allowAllGate) IsAllowed(ctx context.Context, tenantID, phone, consumerID string) compliance.Decision {
	return compliance.Decision{Allowed: true}
}

type stubGateway struct{}

func (stubGateway) Send(ctx context.Context, in gateway.SendInput) (gateway.SendOutput, error) {
	return gateway.SendOutput{ExternalID: "SM1", Status: "sent", Segments: 1}, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, tenantID string) (gateway.Gateway, error) {
	return stubGateway{}, nil
}

func (stubResolver) SenderNumber(ctx context.Context, tenantID string) (string, error) {
	return "+15550001111", nil
}

type noopRecorder struct{}

func (noopRecorder) Record(ctx context.Context, ev billing.UsageEvent) error { return nil }

func newTestAPI(t *testing.T, st *apiStore) *API {
	t.Helper()

	engine := dispatch.New(dispatch.Options{
		Store:    st,
		Gate:     allowAllGate{},
		Limiter:  ratelimit.New(func(string) int { return 60000 }),
		Resolver: stubResolver{},
		Billing:  noopRecorder{},
	})
	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx, time.Hour)
	t.Cleanup(func() {
		cancel()
		engine.Shutdown()
	})

	return &API{Engine: engine, Store: st}
}

func TestCampaignCreateMintsID(t *testing.T) {
	st := newAPIStore()
	api := newTestAPI(t, st)

	router := NewRouter(observability.APIRequests)
	api.Register(router)

	body := `{"tenantId":"t1","template":"msg","recipients":[{"phone":"+15551230001"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/campaigns/send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		CampaignID string `json:"campaignId"`
		Total      int    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.CampaignID, "cmp_"), "server-minted campaign IDs carry the cmp_ prefix")
	assert.Equal(t, 1, resp.Total)

	_, found, err := st.GetCampaign(context.Background(), resp.CampaignID)
	require.NoError(t, err)
	assert.True(t, found, "the minted campaign must be persisted")
}
