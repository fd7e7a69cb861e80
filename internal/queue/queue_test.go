package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueValidation(t *testing.T) {
	svc := NewService(NewMemoryStore())

	_, err := svc.Enqueue(EnqueueRequest{ActionType: "restart"})
	assert.Error(t, err)

	_, err = svc.Enqueue(EnqueueRequest{Kind: "restart", ActionType: "restart", Priority: "urgent"})
	assert.Error(t, err)

	item, err := svc.Enqueue(EnqueueRequest{Kind: "restart", ActionType: "restart", Target: "tabbyapi"})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityNormal, item.Priority)
	assert.Equal(t, "api", item.Source)
	assert.Equal(t, models.WorkQueued, item.Status)
	assert.NotEqual(t, uuid.Nil, item.ID)
}

func TestClaimOrderPriorityThenFIFO(t *testing.T) {
	svc := NewService(NewMemoryStore())

	mk := func(target, priority string) uuid.UUID {
		item, err := svc.Enqueue(EnqueueRequest{Kind: "restart", ActionType: "restart", Target: target, Priority: priority})
		require.NoError(t, err)
		// Distinct CreatedAt so FIFO within a band is deterministic.
		time.Sleep(time.Millisecond)
		return item.ID
	}

	lowID := mk("a", models.PriorityLow)
	normalFirst := mk("b", models.PriorityNormal)
	criticalID := mk("c", models.PriorityCritical)
	normalSecond := mk("d", models.PriorityNormal)

	var order []uuid.UUID
	for {
		item, err := svc.claimNext(time.Now())
		require.NoError(t, err)
		if item == nil {
			break
		}
		order = append(order, item.ID)
	}
	assert.Equal(t, []uuid.UUID{criticalID, normalFirst, normalSecond, lowID}, order)
}

func TestClaimRespectsScheduledAfter(t *testing.T) {
	svc := NewService(NewMemoryStore())

	future := time.Now().Add(time.Hour)
	deferred, err := svc.Enqueue(EnqueueRequest{
		Kind: "prune_cache", ActionType: "prune_cache", Priority: models.PriorityCritical,
		ScheduledAfter: &future,
	})
	require.NoError(t, err)

	ready, err := svc.Enqueue(EnqueueRequest{Kind: "restart", ActionType: "restart", Priority: models.PriorityLow})
	require.NoError(t, err)

	// The critical item is not yet eligible; the low one wins.
	item, err := svc.claimNext(time.Now())
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, ready.ID, item.ID)

	item, err = svc.claimNext(time.Now())
	require.NoError(t, err)
	assert.Nil(t, item)

	item, err = svc.claimNext(future.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, deferred.ID, item.ID)
}

func TestClaimIsExactlyOnce(t *testing.T) {
	svc := NewService(NewMemoryStore())

	item, err := svc.Enqueue(EnqueueRequest{Kind: "restart", ActionType: "restart"})
	require.NoError(t, err)

	first, err := svc.claimNext(time.Now())
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, item.ID, first.ID)
	assert.Equal(t, models.WorkProcessing, first.Status)

	second, err := svc.claimNext(time.Now())
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestCancelOnlyQueuedItems(t *testing.T) {
	svc := NewService(NewMemoryStore())

	item, err := svc.Enqueue(EnqueueRequest{Kind: "restart", ActionType: "restart"})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkCancelled, cancelled.Status)

	// Cancelling again, or cancelling a claimed item, fails.
	_, err = svc.Cancel(item.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)

	claimed, err := svc.Enqueue(EnqueueRequest{Kind: "restart", ActionType: "restart"})
	require.NoError(t, err)
	_, err = svc.claimNext(time.Now())
	require.NoError(t, err)
	_, err = svc.Cancel(claimed.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)

	_, err = svc.Cancel(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDepthCountsQueuedOnly(t *testing.T) {
	svc := NewService(NewMemoryStore())

	for i := 0; i < 3; i++ {
		_, err := svc.Enqueue(EnqueueRequest{Kind: "restart", ActionType: "restart"})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), svc.Depth())

	_, err := svc.claimNext(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), svc.Depth())
}
