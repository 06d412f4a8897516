package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsdispatch/internal/compliance"
	"smsdispatch/internal/domain"
)

// fastEngine uses a limit high enough that pacing is effectively instant.
func fastEngine(st *fakeStore, gw *fakeGateway) *Engine {
	e, _, _ := testEngine(st, gw, 60000)
	e.statusCheckInterval = time.Nanosecond // check durable status every iteration
	return e
}

func recipients(n int) []Recipient {
	out := make([]Recipient, n)
	for i := range out {
		out[i] = Recipient{Phone: "+1555123" + string(rune('0'+i%10)) + "000"}
	}
	return out
}

func TestRunCampaignSendsAllAndCompletes(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{}
	e := fastEngine(st, gw)

	res, err := e.RunCampaign(context.Background(), CampaignRun{
		CampaignID: "cmp_1",
		TenantID:   "t1",
		Template:   "Hi {name}, your balance is due.",
		Recipients: []Recipient{
			{Phone: "+15551230001", Vars: map[string]string{"name": "Ana"}},
			{Phone: "+15551230002", Vars: map[string]string{"name": "Ben"}},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, 2, res.LastIndex)
	assert.False(t, res.WasCancelled)
	assert.Equal(t, domain.CampaignCompleted, st.status("cmp_1"))

	sent := gw.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Hi Ana, your balance is due.", sent[0].Body)
	assert.Equal(t, "Hi Ben, your balance is due.", sent[1].Body)
}

func TestRunCampaignCancelPersistsProgress(t *testing.T) {
	st := newFakeStore()
	st.cancelAfter = 37
	gw := &fakeGateway{}
	e := fastEngine(st, gw)

	res, err := e.RunCampaign(context.Background(), CampaignRun{
		CampaignID: "cmp_2",
		TenantID:   "t1",
		Template:   "msg",
		Recipients: recipients(100),
	})

	require.NoError(t, err)
	assert.True(t, res.WasCancelled)
	assert.Equal(t, 37, res.Sent)
	assert.Equal(t, 37, res.LastIndex)

	prog, ok := st.lastProgress()
	require.True(t, ok)
	assert.Equal(t, 37, prog.LastSentIndex, "cancel must persist the exact stop position")
	assert.Equal(t, domain.CampaignCancelled, st.status("cmp_2"))
}

func TestRunCampaignResumesFromStartIndex(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{}
	e := fastEngine(st, gw)

	res, err := e.RunCampaign(context.Background(), CampaignRun{
		CampaignID: "cmp_3",
		TenantID:   "t1",
		Template:   "msg",
		Recipients: recipients(100),
		StartIndex: 37,
	})

	require.NoError(t, err)
	assert.Equal(t, 63, res.Sent, "resume must only send the remaining tail")
	assert.Equal(t, 100, res.LastIndex)
	assert.Len(t, gw.sent(), 63)
	assert.Equal(t, domain.CampaignCompleted, st.status("cmp_3"))
}

func TestRunCampaignResumesAfterCancelInSameProcess(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{}
	e := fastEngine(st, gw)

	// cancel leaves an in-process mark and durably marks the row cancelled
	e.CancelCampaign(context.Background(), "cmp_8")
	require.Equal(t, domain.CampaignCancelled, st.status("cmp_8"))

	// a resume through the same engine must clear that mark, not finish
	// cancelled on its first iteration
	res, err := e.RunCampaign(context.Background(), CampaignRun{
		CampaignID: "cmp_8",
		TenantID:   "t1",
		Template:   "msg",
		Recipients: recipients(5),
		StartIndex: 2,
	})

	require.NoError(t, err)
	assert.False(t, res.WasCancelled)
	assert.Equal(t, 3, res.Sent, "resume sends the remaining tail")
	assert.Equal(t, 5, res.LastIndex)
	assert.Equal(t, domain.CampaignCompleted, st.status("cmp_8"))
}

func TestRunCampaignSkipsBlockedRecipients(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{}
	e := fastEngine(st, gw)
	e.gate = &fakeGate{denied: map[string]string{"+15559990000": compliance.ReasonOptedOut}}

	res, err := e.RunCampaign(context.Background(), CampaignRun{
		CampaignID: "cmp_4",
		TenantID:   "t1",
		Template:   "msg",
		Recipients: []Recipient{
			{Phone: "+15551230001"},
			{Phone: "+15559990000"},
			{Phone: "+15551230002"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 3, res.LastIndex, "skipped recipients still advance the cursor")
	assert.Equal(t, domain.CampaignCompleted, st.status("cmp_4"))
}

func TestRunCampaignAllFailuresMarksFailed(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{err: errors.New("gateway rejects everything")}
	e := fastEngine(st, gw)

	res, err := e.RunCampaign(context.Background(), CampaignRun{
		CampaignID: "cmp_5",
		TenantID:   "t1",
		Template:   "msg",
		Recipients: recipients(3),
	})

	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 3, res.Errors)
	assert.Equal(t, domain.CampaignFailed, st.status("cmp_5"))
}

func TestRunCampaignRejectsConcurrentRun(t *testing.T) {
	st := newFakeStore()
	e := fastEngine(st, &fakeGateway{})

	require.True(t, e.claimRun("cmp_6"))
	_, err := e.RunCampaign(context.Background(), CampaignRun{
		CampaignID: "cmp_6",
		TenantID:   "t1",
		Template:   "msg",
		Recipients: recipients(1),
	})
	assert.ErrorIs(t, err, ErrCampaignAlreadyRunning)
	e.releaseRun("cmp_6")
}

func TestRunCampaignContextCancelCheckpoints(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{}
	e := fastEngine(st, gw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.RunCampaign(ctx, CampaignRun{
		CampaignID: "cmp_7",
		TenantID:   "t1",
		Template:   "msg",
		Recipients: recipients(10),
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Sent)
	_, ok := st.lastProgress()
	assert.True(t, ok, "shutdown must checkpoint before returning")
}
