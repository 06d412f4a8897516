package compliance

import (
	"context"
	"log/slog"

	"smsdispatch/internal/domain"
	"smsdispatch/internal/util"
)

// BlockStore is the slice of the persistent store the gate needs.
type BlockStore interface {
	IsBlocked(ctx context.Context, tenantID, phone string) (bool, domain.BlockReason, error)
	IsOptedOut(ctx context.Context, consumerID string) (bool, error)
}

const (
	ReasonBlocked  = "blocked_number"
	ReasonOptedOut = "opted_out"
)

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Gate decides whether a recipient may be contacted at all. It runs before
// rate-limit reservation so blocked sends never consume throttle budget.
//
// On a store error the gate fails open: the blocklist is an
// eventually-consistent cache of provider-reported failures, so a transient
// outage there should not take sending down with it.
type Gate struct {
	Store BlockStore
}

func (g *Gate) IsAllowed(ctx context.Context, tenantID, phone, consumerID string) Decision {
	normalized := util.NormalizePhone(phone)

	blocked, reason, err := g.Store.IsBlocked(ctx, tenantID, normalized)
	if err != nil {
		slog.Error("compliance blocklist check failed, allowing send", "err", err, "tenant_id", tenantID)
	} else if blocked {
		r := ReasonBlocked
		if reason == domain.BlockOptedOut {
			r = ReasonOptedOut
		}
		return Decision{Allowed: false, Reason: r}
	}

	if consumerID != "" {
		optedOut, err := g.Store.IsOptedOut(ctx, consumerID)
		if err != nil {
			slog.Error("compliance opt-out check failed, allowing send", "err", err, "consumer_id", consumerID)
		} else if optedOut {
			return Decision{Allowed: false, Reason: ReasonOptedOut}
		}
	}

	return Decision{Allowed: true}
}
