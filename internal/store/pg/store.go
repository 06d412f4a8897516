package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"smsdispatch/internal/billing"
	"smsdispatch/internal/crm"
	"smsdispatch/internal/domain"
	"smsdispatch/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// -- message tracking --

func (s *Store) InsertTracking(ctx context.Context, in store.TrackingInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO sms_tracking (id, tenant_id, campaign_id, consumer_id, account_id, phone, body, status, error_message, external_id, sent_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
	`, in.ID, in.TenantID, nullIfEmpty(in.CampaignID), nullIfEmpty(in.ConsumerID), nullIfEmpty(in.AccountID),
		in.Phone, in.Body, in.Status, nullIfEmpty(in.ErrorMessage), nullIfEmpty(in.ExternalID), in.SentAt)
	return err
}

// UpdateTrackingByExternalID advances the record the gateway callback points
// at and reports which tenant owns it, for webhook-side billing.
func (s *Store) UpdateTrackingByExternalID(ctx context.Context, in store.TrackingStatusUpdate) (string, bool, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE sms_tracking
		SET status=$2, error_message=COALESCE(NULLIF($3,''), error_message), updated_at=$4
		WHERE external_id=$1
		RETURNING tenant_id
	`, in.ExternalID, in.Status, in.ErrorCode, in.Now)
	var tenantID string
	if err := row.Scan(&tenantID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return tenantID, true, nil
}

// -- campaigns --

// EnsureCampaign creates the campaign row if it does not exist yet. Existing
// rows keep their progress counters, so resume calls land on them untouched.
func (s *Store) EnsureCampaign(ctx context.Context, id, tenantID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO campaigns (id, tenant_id, status, total_sent, total_errors, last_sent_index, created_at, updated_at)
		VALUES ($1,$2,'sending',0,0,0,$3,$3)
		ON CONFLICT (id) DO NOTHING
	`, id, tenantID, now)
	return err
}

func (s *Store) GetCampaign(ctx context.Context, id string) (store.CampaignRow, bool, error) {
	var c store.CampaignRow
	row := s.DB.QueryRow(ctx, `
		SELECT id, tenant_id, status, total_sent, total_errors, last_sent_index, created_at, updated_at
		FROM campaigns WHERE id=$1
	`, id)
	err := row.Scan(&c.ID, &c.TenantID, &c.Status, &c.TotalSent, &c.TotalErrors, &c.LastSentIndex, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CampaignRow{}, false, nil
		}
		return store.CampaignRow{}, false, err
	}
	return c, true, nil
}

// UpdateCampaignProgress is forward-only on last_sent_index so a stale
// checkpoint from a dying run can never rewind a newer one.
func (s *Store) UpdateCampaignProgress(ctx context.Context, in store.CampaignProgress) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaigns
		SET last_sent_index=GREATEST(last_sent_index,$2), total_sent=$3, total_errors=$4, updated_at=$5
		WHERE id=$1
	`, in.ID, in.LastSentIndex, in.TotalSent, in.TotalErrors, in.Now)
	return err
}

func (s *Store) SetCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status=$2, updated_at=$3 WHERE id=$1
	`, id, status, now)
	return err
}

// -- compliance --

func (s *Store) IsBlocked(ctx context.Context, tenantID, phone string) (bool, domain.BlockReason, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT reason FROM blocked_numbers WHERE tenant_id=$1 AND phone=$2
	`, tenantID, phone)
	var reason domain.BlockReason
	if err := row.Scan(&reason); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, "", nil
		}
		return false, "", err
	}
	return true, reason, nil
}

func (s *Store) IsOptedOut(ctx context.Context, consumerID string) (bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT sms_opted_out FROM consumers WHERE id=$1`, consumerID)
	var optedOut bool
	if err := row.Scan(&optedOut); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return optedOut, nil
}

// InsertBlockedNumber is idempotent on (tenant_id, phone): the sync job
// re-scans overlapping history windows and must not error on repeats.
func (s *Store) InsertBlockedNumber(ctx context.Context, in store.BlockedNumberInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO blocked_numbers (tenant_id, phone, reason, source_code, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (tenant_id, phone) DO NOTHING
	`, in.TenantID, in.Phone, in.Reason, nullIfEmpty(in.SourceCode), nullIfEmpty(in.Note), in.Now)
	return err
}

func (s *Store) FindConsumerIDByPhone(ctx context.Context, tenantID, phone string) (string, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id FROM consumers WHERE tenant_id=$1 AND phone=$2
	`, tenantID, phone)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

func (s *Store) SetConsumerOptOut(ctx context.Context, consumerID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE consumers SET sms_opted_out=true, updated_at=$2 WHERE id=$1
	`, consumerID, now)
	return err
}

// -- tenant gateway settings --

func (s *Store) TenantGatewayConfig(ctx context.Context, tenantID string) (store.TenantGatewayConfig, bool, error) {
	var cfg store.TenantGatewayConfig
	row := s.DB.QueryRow(ctx, `
		SELECT COALESCE(gateway_account_id,''), COALESCE(gateway_auth_token,''), COALESCE(from_number,''), COALESCE(sms_rate_per_minute,0)
		FROM tenant_settings WHERE tenant_id=$1
	`, tenantID)
	err := row.Scan(&cfg.AccountID, &cfg.AuthToken, &cfg.FromNumber, &cfg.RatePerMinute)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.TenantGatewayConfig{}, false, nil
		}
		return store.TenantGatewayConfig{}, false, err
	}
	return cfg, true, nil
}

// -- billing --

func (s *Store) Record(ctx context.Context, ev billing.UsageEvent) error {
	b, _ := json.Marshal(ev.Metadata)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO usage_events (tenant_id, provider, event_type, quantity, external_id, source, metadata_json, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ev.TenantID, ev.Provider, ev.Type, ev.Quantity, nullIfEmpty(ev.ExternalID), ev.Source, b, ev.OccurredAt)
	return err
}

// -- crm notes --

func (s *Store) WriteNote(ctx context.Context, n crm.Note) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO crm_notes (tenant_id, consumer_id, account_id, body, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, n.TenantID, n.ConsumerID, nullIfEmpty(n.AccountID), n.Body, n.CreatedAt)
	return err
}

// -- delivery events --

func (s *Store) InsertDeliveryEvent(ctx context.Context, in store.DeliveryEventInsert) error {
	b, _ := json.Marshal(in.Payload)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO delivery_events (external_id, vendor_status, error_code, payload_json, occurred_at)
		VALUES ($1,$2,$3,$4,$5)
	`, in.ExternalID, in.Status, nullIfEmpty(in.ErrorCode), b, in.OccurredAt)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
