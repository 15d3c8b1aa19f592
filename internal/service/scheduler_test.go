package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"vitalink-realtime/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSchedulerRunsRegisteredJob(t *testing.T) {
	sched := NewScheduler(zap.NewNop())

	var runs atomic.Int64
	sched.Register("tick", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	waitFor(t, func() bool { return runs.Load() >= 2 })
}

func TestSchedulerTriggerRunsImmediately(t *testing.T) {
	sched := NewScheduler(zap.NewNop())

	var runs atomic.Int64
	sched.Register("slow", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	require.NoError(t, sched.Trigger("slow"))
	waitFor(t, func() bool { return runs.Load() == 1 })
}

func TestSchedulerStopJobPausesTicks(t *testing.T) {
	sched := NewScheduler(zap.NewNop())

	var runs atomic.Int64
	sched.Register("pausable", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	require.NoError(t, sched.StopJob("pausable"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), runs.Load())

	// 手动触发不受启停状态影响
	require.NoError(t, sched.Trigger("pausable"))
	waitFor(t, func() bool { return runs.Load() == 1 })

	// 恢复后定时执行继续
	require.NoError(t, sched.StartJob("pausable"))
	waitFor(t, func() bool { return runs.Load() >= 2 })
}

func TestSchedulerUnknownJobReturnsNotFound(t *testing.T) {
	sched := NewScheduler(zap.NewNop())

	assert.ErrorIs(t, sched.Trigger("nope"), models.ErrNotFound)
	assert.ErrorIs(t, sched.StartJob("nope"), models.ErrNotFound)
	assert.ErrorIs(t, sched.StopJob("nope"), models.ErrNotFound)
}

func TestSchedulerStatusRecordsRunsAndErrors(t *testing.T) {
	sched := NewScheduler(zap.NewNop())

	var runs atomic.Int64
	sched.Register("failing", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	})
	sched.Register("healthy", time.Hour, func(ctx context.Context) error {
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	require.NoError(t, sched.Trigger("failing"))
	waitFor(t, func() bool { return runs.Load() == 1 })
	waitFor(t, func() bool {
		return sched.Status()[0].LastError != ""
	})

	statuses := sched.Status()
	require.Len(t, statuses, 2)
	// 注册顺序稳定
	assert.Equal(t, "failing", statuses[0].Name)
	assert.Equal(t, "healthy", statuses[1].Name)
	assert.Equal(t, int64(1), statuses[0].Runs)
	assert.Equal(t, "boom", statuses[0].LastError)
	require.NotNil(t, statuses[0].LastRunAt)
	assert.Equal(t, int64(0), statuses[1].Runs)
	assert.Nil(t, statuses[1].LastRunAt)
}
