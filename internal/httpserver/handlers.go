package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"smsdispatch/internal/compliance"
	"smsdispatch/internal/dispatch"
	"smsdispatch/internal/domain"
	"smsdispatch/internal/gateway"
	"smsdispatch/internal/ratelimit"
	"smsdispatch/internal/store"
	"smsdispatch/internal/util"
)

// CampaignStore is the slice of the persistent store the API needs beyond
// what the engine already owns.
type CampaignStore interface {
	EnsureCampaign(ctx context.Context, id, tenantID string, now time.Time) error
	GetCampaign(ctx context.Context, id string) (store.CampaignRow, bool, error)
}

type API struct {
	Engine   *dispatch.Engine
	Store    CampaignStore
	Limiter  *ratelimit.Limiter
	Resolver *gateway.Resolver
	Syncer   *compliance.Syncer
	SyncDays int
}

func (a *API) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/sms/send", a.handleSend).Methods(http.MethodPost)
	mux.HandleFunc("/v1/campaigns/send", a.handleCampaignCreate).Methods(http.MethodPost)
	mux.HandleFunc("/v1/campaigns/{id}/send", a.handleCampaignSend).Methods(http.MethodPost)
	mux.HandleFunc("/v1/campaigns/{id}/cancel", a.handleCampaignCancel).Methods(http.MethodPost)
	mux.HandleFunc("/v1/campaigns/{id}", a.handleCampaignGet).Methods(http.MethodGet)
	mux.HandleFunc("/v1/tenants/{id}/rate", a.handleRateStatus).Methods(http.MethodGet)
	mux.HandleFunc("/v1/tenants/{id}/compliance/sync", a.handleComplianceSync).Methods(http.MethodPost)
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	var req domain.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := a.Engine.Send(r.Context(), req)

	code := http.StatusOK
	switch res.Outcome {
	case domain.OutcomeQueued:
		code = http.StatusAccepted
	case domain.OutcomeBlocked:
		code = http.StatusUnprocessableEntity
	case domain.OutcomeFailed:
		code = http.StatusBadGateway
	}
	writeJSON(w, code, res)
}

type campaignSendRequest struct {
	TenantID   string               `json:"tenantId"`
	Template   string               `json:"template"`
	Recipients []dispatch.Recipient `json:"recipients"`
	StartIndex int                  `json:"startIndex"`
	Resume     bool                 `json:"resume"`
}

// handleCampaignCreate mints the campaign ID for callers that don't bring
// their own. Resume still goes through the ID route.
func (a *API) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	a.startCampaign(w, r, util.NewCampaignID())
}

func (a *API) handleCampaignSend(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	a.startCampaign(w, r, id)
}

func (a *API) startCampaign(w http.ResponseWriter, r *http.Request, id string) {
	var req campaignSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.TenantID == "" || req.Template == "" || len(req.Recipients) == 0 {
		http.Error(w, domain.ErrMissingFields.Error(), http.StatusBadRequest)
		return
	}

	if err := a.Store.EnsureCampaign(r.Context(), id, req.TenantID, util.NowUTC()); err != nil {
		slog.Error("ensure campaign failed", "err", err, "campaign_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	row, found, err := a.Store.GetCampaign(r.Context(), id)
	if err != nil || !found {
		slog.Error("load campaign failed", "err", err, "campaign_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	startIndex := req.StartIndex
	if req.Resume {
		// pick up where the last run checkpointed
		startIndex = row.LastSentIndex
	}

	err = a.Engine.StartCampaign(dispatch.CampaignRun{
		CampaignID: id,
		TenantID:   req.TenantID,
		Template:   req.Template,
		Recipients: req.Recipients,
		StartIndex: startIndex,
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrCampaignAlreadyRunning) {
			http.Error(w, "campaign already running", http.StatusConflict)
			return
		}
		slog.Error("start campaign failed", "err", err, "campaign_id", id)
		http.Error(w, ErrDependency, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaignId": id,
		"startIndex": startIndex,
		"total":      len(req.Recipients),
	})
}

func (a *API) handleCampaignCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}

	purged, err := a.Engine.CancelCampaign(r.Context(), id)
	if err != nil {
		slog.Error("cancel campaign failed", "err", err, "campaign_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaignId": id,
		"status":     domain.CampaignCancelled,
		"purged":     purged,
	})
}

func (a *API) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	row, found, err := a.Store.GetCampaign(r.Context(), id)
	if err != nil {
		slog.Error("get campaign failed", "err", err, "campaign_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (a *API) handleRateStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, a.Limiter.Status(id))
}

type complianceSyncRequest struct {
	DaysBack int `json:"daysBack"`
}

func (a *API) handleComplianceSync(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}

	var req complianceSyncRequest
	if r.Body != nil {
		// body is optional; daysBack falls back to the configured default
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	daysBack := req.DaysBack
	if daysBack <= 0 {
		daysBack = a.SyncDays
	}

	history, err := a.Resolver.Client(r.Context(), id)
	if err != nil {
		slog.Error("resolve gateway for sync failed", "err", err, "tenant_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	res, err := a.Syncer.Sync(r.Context(), id, history, daysBack)
	if err != nil {
		slog.Error("compliance sync failed", "err", err, "tenant_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
