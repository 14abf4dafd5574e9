package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miketere/businesscard-sub001/app/models"
)

func TestInitManager(t *testing.T) {
	// Reset the singleton for testing
	globalManager = nil
	managerOnce = sync.Once{}

	h := newHarness(t)
	manager1 := InitManager(h.rec, Schedule{})
	manager2 := InitManager(nil, Schedule{})

	assert.NotNil(t, manager1)
	assert.Same(t, manager1, manager2, "InitManager should return the first instance")
	assert.Same(t, manager1, globalManager)
	assert.Same(t, h.rec, manager1.Reconciler())
	assert.Equal(t, DefaultSchedule, manager1.schedule)
	assert.False(t, manager1.IsRunning())
}

func TestManager_StartStop(t *testing.T) {
	h := newHarness(t)
	manager := NewManager(h.rec, Schedule{SweepInterval: time.Hour, RetryInterval: time.Hour})

	require.NoError(t, manager.Start())
	assert.True(t, manager.IsRunning())
	require.NoError(t, manager.Start(), "starting twice is a no-op")
	assert.Len(t, manager.cron.Entries(), 2)

	manager.Stop()
	assert.False(t, manager.IsRunning())
	manager.Stop()

	// The manager can be restarted after a stop.
	require.NoError(t, manager.Start())
	assert.True(t, manager.IsRunning())
	manager.Stop()
}

func TestManager_ScheduledSweepRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.checkout(t, 7, "basic")
	_, err := h.rec.Apply(ctx, ptr(paid("evt_1", session, periodEnd(time.Hour))))
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, 7, false)
	require.NoError(t, err)

	manager := NewManager(h.rec, Schedule{SweepInterval: time.Second, RetryInterval: time.Hour})
	require.NoError(t, manager.Start())
	defer manager.Stop()

	assert.Eventually(t, func() bool {
		sub, err := h.svc.Store().Current(ctx, 7)
		return err == nil && sub.Status == models.SubscriptionStatusExpired
	}, 5*time.Second, 50*time.Millisecond)
}

func TestManager_RunSweepOnce(t *testing.T) {
	h := newHarness(t)
	manager := NewManager(h.rec, Schedule{})

	n, err := manager.RunSweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
