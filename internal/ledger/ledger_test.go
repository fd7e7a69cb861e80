package ledger

import (
	"testing"

	"github.com/hydralab/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store), store
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	svc, _ := newTestLedger()

	id, err := svc.Append(&models.ActivityRecord{
		Source:     "scheduler",
		ActionType: "restart",
		Target:     "tabbyapi",
		Status:     models.StatusExecuted,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rec, err := svc.Get(id)
	require.NoError(t, err)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestAppendFailureFlipsUnavailable(t *testing.T) {
	svc, store := newTestLedger()
	require.True(t, svc.Available())

	store.SetFailing(true)
	_, err := svc.Append(&models.ActivityRecord{Source: "s", ActionType: "a", Status: models.StatusExecuted})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, svc.Available())

	// A successful append marks it available again.
	store.SetFailing(false)
	_, err = svc.Append(&models.ActivityRecord{Source: "s", ActionType: "a", Status: models.StatusExecuted})
	require.NoError(t, err)
	assert.True(t, svc.Available())
}

func TestResolveExactlyOnce(t *testing.T) {
	svc, _ := newTestLedger()

	id, err := svc.Append(&models.ActivityRecord{
		Source:     "scheduler",
		ActionType: "restart",
		Target:     "tabbyapi",
		Status:     models.StatusPending,
	})
	require.NoError(t, err)

	rec, err := svc.Resolve(id, models.StatusApproved, "shaun")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, rec.Status)
	assert.Equal(t, "shaun", rec.ResolvedBy)
	require.NotNil(t, rec.ResolvedAt)

	// Second resolution is a visible error, never a silent overwrite.
	_, err = svc.Resolve(id, models.StatusRejected, "shaun")
	assert.ErrorIs(t, err, ErrNotPending)

	rec, err = svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, rec.Status)
}

func TestResolveRejectsInvalidStatus(t *testing.T) {
	svc, _ := newTestLedger()
	_, err := svc.Resolve(1, models.StatusExecuted, "shaun")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestResolveUnknownID(t *testing.T) {
	svc, _ := newTestLedger()
	_, err := svc.Resolve(42, models.StatusApproved, "shaun")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateResultOnlyForRunnableRecords(t *testing.T) {
	svc, _ := newTestLedger()

	blockedID, err := svc.Append(&models.ActivityRecord{
		Source: "scheduler", ActionType: "restart", Status: models.StatusBlocked,
	})
	require.NoError(t, err)
	_, err = svc.UpdateResult(blockedID, models.ResultOK, "")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	execID, err := svc.Append(&models.ActivityRecord{
		Source: "scheduler", ActionType: "restart", Status: models.StatusExecuted,
	})
	require.NoError(t, err)
	rec, err := svc.UpdateResult(execID, models.ResultTimeout, "no response in 30s")
	require.NoError(t, err)
	assert.Equal(t, models.ResultTimeout, rec.Result)
	assert.Equal(t, "no response in 30s", rec.ResultDetail)

	_, err = svc.UpdateResult(execID, "exploded", "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestQueryFilters(t *testing.T) {
	svc, _ := newTestLedger()

	for _, rec := range []models.ActivityRecord{
		{Source: "scheduler", ActionType: "restart", Target: "tabbyapi", Status: models.StatusExecuted},
		{Source: "webhook", ActionType: "restart", Target: "grafana", Status: models.StatusBlocked},
		{Source: "scheduler", ActionType: "prune_cache", Target: "tabbyapi", Status: models.StatusPending},
	} {
		r := rec
		_, err := svc.Append(&r)
		require.NoError(t, err)
	}

	recs, total, err := svc.Query(QueryFilter{Target: "tabbyapi"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, recs, 2)
	// Newest first.
	assert.True(t, recs[0].ID > recs[1].ID)

	recs, _, err = svc.Query(QueryFilter{Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "prune_cache", recs[0].ActionType)
}

func TestPendingListsOldestFirst(t *testing.T) {
	svc, _ := newTestLedger()

	for i := 0; i < 3; i++ {
		_, err := svc.Append(&models.ActivityRecord{
			Source: "scheduler", ActionType: "restart", Status: models.StatusPending,
		})
		require.NoError(t, err)
	}
	_, err := svc.Append(&models.ActivityRecord{
		Source: "scheduler", ActionType: "restart", Status: models.StatusExecuted,
	})
	require.NoError(t, err)

	pending, err := svc.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestOnAppendCallback(t *testing.T) {
	svc, _ := newTestLedger()

	var seen []string
	svc.OnAppend(func(rec models.ActivityRecord) {
		seen = append(seen, rec.Status)
	})

	_, err := svc.Append(&models.ActivityRecord{Source: "s", ActionType: "a", Status: models.StatusExecuted})
	require.NoError(t, err)
	_, err = svc.Append(&models.ActivityRecord{Source: "s", ActionType: "a", Status: models.StatusBlocked})
	require.NoError(t, err)

	assert.Equal(t, []string{models.StatusExecuted, models.StatusBlocked}, seen)
}

func TestOnErrorCallback(t *testing.T) {
	svc, store := newTestLedger()

	failures := 0
	svc.OnError(func(err error) { failures++ })

	store.SetFailing(true)
	_, err := svc.Append(&models.ActivityRecord{Source: "s", ActionType: "a", Status: models.StatusExecuted})
	require.Error(t, err)
	assert.Equal(t, 1, failures)
}

func TestRecordModeChange(t *testing.T) {
	svc, _ := newTestLedger()

	require.NoError(t, svc.RecordModeChange("full_auto", "safe_mode", "shaun"))

	recs, _, err := svc.Query(QueryFilter{ActionType: "mode_change"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "shaun", recs[0].Source)
	assert.Equal(t, "full_auto -> safe_mode", recs[0].DecisionReason)
}
