package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsdispatch/internal/billing"
	"smsdispatch/internal/domain"
	"smsdispatch/internal/store"
)

type fakeDeliveryStore struct {
	events  []store.DeliveryEventInsert
	updates []store.TrackingStatusUpdate
	tenant  string // "" means unknown external id
}

func (f *fakeDeliveryStore) InsertDeliveryEvent(ctx context.Context, in store.DeliveryEventInsert) error {
	f.events = append(f.events, in)
	return nil
}

func (f *fakeDeliveryStore) UpdateTrackingByExternalID(ctx context.Context, in store.TrackingStatusUpdate) (string, bool, error) {
	if f.tenant == "" {
		return "", false, nil
	}
	f.updates = append(f.updates, in)
	return f.tenant, true, nil
}

func TestApplyDeliveryEventDeliveredBillsWebhookSource(t *testing.T) {
	st := &fakeDeliveryStore{tenant: "t1"}
	rec := &fakeRecorder{}

	err := ApplyDeliveryEvent(context.Background(), st, rec, DeliveryUpdate{
		ExternalID: "SM1",
		Status:     "delivered",
		Segments:   3,
		ReceivedAt: time.Now(),
	})
	require.NoError(t, err)

	require.Len(t, st.updates, 1)
	assert.Equal(t, domain.StatusDelivered, st.updates[0].Status)

	events := rec.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, billing.SourceWebhook, events[0].Source)
	assert.Equal(t, "t1", events[0].TenantID)
	assert.Equal(t, 3, events[0].Quantity)
}

func TestApplyDeliveryEventFailedUpdatesWithoutBilling(t *testing.T) {
	st := &fakeDeliveryStore{tenant: "t1"}
	rec := &fakeRecorder{}

	err := ApplyDeliveryEvent(context.Background(), st, rec, DeliveryUpdate{
		ExternalID: "SM2",
		Status:     "undelivered",
		ErrorCode:  "30003",
	})
	require.NoError(t, err)

	require.Len(t, st.updates, 1)
	assert.Equal(t, domain.StatusUndelivered, st.updates[0].Status)
	assert.Equal(t, "30003", st.updates[0].ErrorCode)
	assert.Empty(t, rec.recorded())
}

func TestApplyDeliveryEventIntermediateStatusOnlyAudits(t *testing.T) {
	st := &fakeDeliveryStore{tenant: "t1"}

	err := ApplyDeliveryEvent(context.Background(), st, nil, DeliveryUpdate{
		ExternalID: "SM3",
		Status:     "accepted",
	})
	require.NoError(t, err)

	assert.Len(t, st.events, 1, "intermediate events are still stored for audit")
	assert.Empty(t, st.updates)
}

func TestApplyDeliveryEventUnknownMessageIsNotAnError(t *testing.T) {
	st := &fakeDeliveryStore{}
	rec := &fakeRecorder{}

	err := ApplyDeliveryEvent(context.Background(), st, rec, DeliveryUpdate{
		ExternalID: "SMghost",
		Status:     "delivered",
	})
	require.NoError(t, err)
	assert.Empty(t, rec.recorded())
}
