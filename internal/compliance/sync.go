package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"smsdispatch/internal/domain"
	"smsdispatch/internal/gateway"
	"smsdispatch/internal/store"
	"smsdispatch/internal/util"
)

// permanentFailureCodes are gateway/carrier error codes that mean the number
// itself is bad or the recipient rejected us: invalid number, landline,
// carrier block, explicit opt-out rejection. Transient delivery errors are
// deliberately absent.
var permanentFailureCodes = map[int]bool{
	21211: true, // invalid 'To' number
	21610: true, // recipient has opted out / blocked sender
	21614: true, // not a mobile number
	30003: true, // unreachable handset
	30004: true, // message blocked by recipient
	30005: true, // unknown destination handset
	30006: true, // landline or unreachable carrier
}

// optOutKeywords are the bodies that count as an opt-out reply once the
// message is uppercased and stripped to letters ("  stop " -> "STOP").
var optOutKeywords = map[string]bool{
	"STOP":        true,
	"STOPALL":     true,
	"UNSUBSCRIBE": true,
	"CANCEL":      true,
	"END":         true,
	"QUIT":        true,
}

// NormalizeKeyword uppercases and drops everything that is not a letter, so
// punctuation and whitespace variants of STOP all match.
func NormalizeKeyword(body string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(body)) {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SyncStore is the slice of the persistent store the sync needs.
type SyncStore interface {
	InsertBlockedNumber(ctx context.Context, in store.BlockedNumberInsert) error
	FindConsumerIDByPhone(ctx context.Context, tenantID, phone string) (string, bool, error)
	SetConsumerOptOut(ctx context.Context, consumerID string, now time.Time) error
}

type SyncResult struct {
	FailedNumbers           int      `json:"failedNumbers"`
	OptOutNumbers           int      `json:"optOutNumbers"`
	ConsumersMarkedOptedOut int      `json:"consumersMarkedOptedOut"`
	TotalScanned            int      `json:"totalScanned"`
	Errors                  []string `json:"errors,omitempty"`
}

// Syncer retroactively populates the blocklist from provider history:
// outbound messages that died with a permanent failure code, and inbound
// replies matching the opt-out keyword set.
type Syncer struct {
	Store SyncStore

	now func() time.Time
}

func NewSyncer(s SyncStore) *Syncer {
	return &Syncer{Store: s, now: time.Now}
}

// Sync scans daysBack of history for one tenant. Per-item errors (a flaky
// insert, an unmatchable consumer) are accumulated, not fatal: one bad row
// should not abort the scan.
func (s *Syncer) Sync(ctx context.Context, tenantID string, history gateway.HistoryLister, daysBack int) (SyncResult, error) {
	if daysBack <= 0 {
		daysBack = 30
	}
	since := s.now().AddDate(0, 0, -daysBack)

	msgs, err := history.ListMessages(ctx, since)
	if err != nil {
		return SyncResult{}, fmt.Errorf("listing gateway history: %w", err)
	}

	res := SyncResult{TotalScanned: len(msgs)}
	now := s.now().UTC()

	// dedupe within the run so a number that failed ten times is blocked
	// (and its consumer flagged) exactly once
	blockedSeen := make(map[string]bool)
	optedOutSeen := make(map[string]bool)

	for _, m := range msgs {
		if m.Inbound() {
			if !optOutKeywords[NormalizeKeyword(m.Body)] {
				continue
			}
			phone := util.NormalizePhone(m.From)
			if phone == "" || optedOutSeen[phone] {
				continue
			}
			optedOutSeen[phone] = true

			if err := s.Store.InsertBlockedNumber(ctx, store.BlockedNumberInsert{
				TenantID:   tenantID,
				Phone:      phone,
				Reason:     domain.BlockOptedOut,
				SourceCode: "inbound_keyword",
				Note:       "historical sync: opt-out reply",
				Now:        now,
			}); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("block %s: %v", phone, err))
				continue
			}
			res.OptOutNumbers++

			consumerID, found, err := s.Store.FindConsumerIDByPhone(ctx, tenantID, phone)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("find consumer %s: %v", phone, err))
				continue
			}
			if !found {
				continue
			}
			if err := s.Store.SetConsumerOptOut(ctx, consumerID, now); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("opt out consumer %s: %v", consumerID, err))
				continue
			}
			res.ConsumersMarkedOptedOut++
			continue
		}

		// outbound: permanent failures only
		if !permanentFailureCodes[m.ErrorCode] {
			continue
		}
		phone := util.NormalizePhone(m.To)
		if phone == "" || blockedSeen[phone] {
			continue
		}
		blockedSeen[phone] = true

		reason := domain.BlockUndeliverable
		if m.ErrorCode == 21610 || m.ErrorCode == 30004 {
			reason = domain.BlockOptedOut
		}
		if err := s.Store.InsertBlockedNumber(ctx, store.BlockedNumberInsert{
			TenantID:   tenantID,
			Phone:      phone,
			Reason:     reason,
			SourceCode: strconv.Itoa(m.ErrorCode),
			Note:       "historical sync: outbound failure",
			Now:        now,
		}); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("block %s: %v", phone, err))
			continue
		}
		res.FailedNumbers++
	}

	slog.Info("historical compliance sync finished",
		"tenant_id", tenantID,
		"scanned", res.TotalScanned,
		"failed_numbers", res.FailedNumbers,
		"opt_out_numbers", res.OptOutNumbers,
		"consumers_opted_out", res.ConsumersMarkedOptedOut,
		"errors", len(res.Errors),
	)
	return res, nil
}
