package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"smsdispatch/internal/store"
)

// ErrNoGateway means neither tenant-specific nor default credentials exist.
var ErrNoGateway = errors.New("no gateway credentials configured for tenant")

// ErrNoSender means no sender number could be resolved for the tenant.
var ErrNoSender = errors.New("no sender number configured for tenant")

// TenantConfigStore resolves per-tenant gateway settings. found=false means
// the tenant has no row at all (legacy single-tenant mode).
type TenantConfigStore interface {
	TenantGatewayConfig(ctx context.Context, tenantID string) (store.TenantGatewayConfig, bool, error)
}

// Resolver hands out one cached Client per tenant, falling back to a shared
// default client (and default sender number) when a tenant carries no
// credentials of its own. Client and sender caches are independent: a tenant
// may have its own number but ride on the default account.
type Resolver struct {
	Tenants     TenantConfigStore
	BaseURL     string
	HTTP        *http.Client
	Default     *Client // nil when no fallback credentials are configured
	DefaultFrom string

	mu      sync.Mutex
	clients map[string]*Client
	senders map[string]string
}

func NewResolver(tenants TenantConfigStore, baseURL string, def *Client, defaultFrom string) *Resolver {
	return &Resolver{
		Tenants:     tenants,
		BaseURL:     baseURL,
		HTTP:        &http.Client{Timeout: 8 * time.Second},
		Default:     def,
		DefaultFrom: defaultFrom,
		clients:     make(map[string]*Client),
		senders:     make(map[string]string),
	}
}

// Resolve returns the tenant's gateway, or ErrNoGateway.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (Gateway, error) {
	c, err := r.Client(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Client is the concrete form of Resolve, used where history listing is
// needed as well.
func (r *Resolver) Client(ctx context.Context, tenantID string) (*Client, error) {
	r.mu.Lock()
	if c, ok := r.clients[tenantID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	cfg, found, err := r.Tenants.TenantGatewayConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var c *Client
	if found && cfg.AccountID != "" && cfg.AuthToken != "" {
		c = &Client{
			AccountID: cfg.AccountID,
			AuthToken: cfg.AuthToken,
			HTTP:      r.HTTP,
			BaseURL:   r.BaseURL,
		}
	} else if r.Default != nil {
		c = r.Default
	} else {
		return nil, ErrNoGateway
	}

	r.mu.Lock()
	r.clients[tenantID] = c
	r.mu.Unlock()
	return c, nil
}

// SenderNumber resolves the tenant's from-number with the same two-tier
// fallback policy as Client.
func (r *Resolver) SenderNumber(ctx context.Context, tenantID string) (string, error) {
	r.mu.Lock()
	if from, ok := r.senders[tenantID]; ok {
		r.mu.Unlock()
		return from, nil
	}
	r.mu.Unlock()

	cfg, found, err := r.Tenants.TenantGatewayConfig(ctx, tenantID)
	if err != nil {
		return "", err
	}

	from := r.DefaultFrom
	if found && cfg.FromNumber != "" {
		from = cfg.FromNumber
	}
	if from == "" {
		return "", ErrNoSender
	}

	r.mu.Lock()
	r.senders[tenantID] = from
	r.mu.Unlock()
	return from, nil
}
