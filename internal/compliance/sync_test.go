package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsdispatch/internal/domain"
	"smsdispatch/internal/gateway"
	"smsdispatch/internal/store"
)

type fakeSyncStore struct {
	blocked   []store.BlockedNumberInsert
	optedOut  []string
	consumers map[string]string // phone -> consumer id
	insertErr error
}

func (f *fakeSyncStore) InsertBlockedNumber(ctx context.Context, in store.BlockedNumberInsert) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.blocked = append(f.blocked, in)
	return nil
}

func (f *fakeSyncStore) FindConsumerIDByPhone(ctx context.Context, tenantID, phone string) (string, bool, error) {
	id, ok := f.consumers[phone]
	return id, ok, nil
}

func (f *fakeSyncStore) SetConsumerOptOut(ctx context.Context, consumerID string, now time.Time) error {
	f.optedOut = append(f.optedOut, consumerID)
	return nil
}

type fakeHistory struct {
	msgs []gateway.HistoryMessage
	err  error
}

func (f *fakeHistory) ListMessages(ctx context.Context, since time.Time) ([]gateway.HistoryMessage, error) {
	return f.msgs, f.err
}

func outbound(to string, errorCode int) gateway.HistoryMessage {
	return gateway.HistoryMessage{To: to, Direction: "outbound-api", Status: "failed", ErrorCode: errorCode}
}

func inbound(from, body string) gateway.HistoryMessage {
	return gateway.HistoryMessage{From: from, Body: body, Direction: "inbound", Status: "received"}
}

func TestNormalizeKeyword(t *testing.T) {
	assert.Equal(t, "STOP", NormalizeKeyword("  stop "))
	assert.Equal(t, "STOP", NormalizeKeyword("Stop!"))
	assert.Equal(t, "STOPALL", NormalizeKeyword("stop all"))
	assert.Equal(t, "UNSUBSCRIBE", NormalizeKeyword("UNSUBSCRIBE"))
	assert.Equal(t, "", NormalizeKeyword("123"))
}

func TestSyncBlocksPermanentFailures(t *testing.T) {
	st := &fakeSyncStore{}
	s := NewSyncer(st)

	res, err := s.Sync(context.Background(), "t1", &fakeHistory{msgs: []gateway.HistoryMessage{
		outbound("+15550000001", 21211), // invalid number
		outbound("+15550000002", 30001), // transient, ignored
		outbound("+15550000003", 30004), // blocked by recipient -> opted_out
	}}, 30)
	require.NoError(t, err)

	assert.Equal(t, 2, res.FailedNumbers)
	assert.Equal(t, 3, res.TotalScanned)
	require.Len(t, st.blocked, 2)
	assert.Equal(t, domain.BlockUndeliverable, st.blocked[0].Reason)
	assert.Equal(t, "21211", st.blocked[0].SourceCode)
	assert.Equal(t, domain.BlockOptedOut, st.blocked[1].Reason)
}

func TestSyncHandlesOptOutReplies(t *testing.T) {
	st := &fakeSyncStore{consumers: map[string]string{"15550000001": "con_1"}}
	s := NewSyncer(st)

	res, err := s.Sync(context.Background(), "t1", &fakeHistory{msgs: []gateway.HistoryMessage{
		inbound("+15550000001", "  stop "),
		inbound("+15550000002", "please unsubscribe"), // not a bare keyword
		inbound("+15550000003", "Cancel."),
	}}, 30)
	require.NoError(t, err)

	assert.Equal(t, 2, res.OptOutNumbers)
	assert.Equal(t, 1, res.ConsumersMarkedOptedOut)
	assert.Equal(t, []string{"con_1"}, st.optedOut)
	require.Len(t, st.blocked, 2)
	assert.Equal(t, domain.BlockOptedOut, st.blocked[0].Reason)
	assert.Equal(t, "inbound_keyword", st.blocked[0].SourceCode)
}

func TestSyncDedupesWithinRun(t *testing.T) {
	st := &fakeSyncStore{}
	s := NewSyncer(st)

	res, err := s.Sync(context.Background(), "t1", &fakeHistory{msgs: []gateway.HistoryMessage{
		outbound("+15550000001", 30003),
		outbound("+15550000001", 30003),
		outbound("+1 (555) 000-0001", 30003), // same number, different formatting
		inbound("+15550000002", "STOP"),
		inbound("+15550000002", "STOP"),
	}}, 30)
	require.NoError(t, err)

	assert.Equal(t, 1, res.FailedNumbers)
	assert.Equal(t, 1, res.OptOutNumbers)
	assert.Len(t, st.blocked, 2)
}

func TestSyncAccumulatesErrorsWithoutAborting(t *testing.T) {
	st := &fakeSyncStore{insertErr: errors.New("insert failed")}
	s := NewSyncer(st)

	res, err := s.Sync(context.Background(), "t1", &fakeHistory{msgs: []gateway.HistoryMessage{
		outbound("+15550000001", 21211),
		outbound("+15550000002", 21614),
	}}, 30)
	require.NoError(t, err, "per-row failures must not abort the scan")
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, 0, res.FailedNumbers)
}

func TestSyncHistoryErrorIsFatal(t *testing.T) {
	s := NewSyncer(&fakeSyncStore{})
	_, err := s.Sync(context.Background(), "t1", &fakeHistory{err: errors.New("api down")}, 30)
	assert.Error(t, err)
}
