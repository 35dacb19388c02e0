package jobs_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/worktime-engine/jobs"
)

func TestRunNow_RunsAndRecordsStatus(t *testing.T) {
	// GIVEN: A manual-only job that fails
	s := jobs.NewScheduler(zap.NewNop())
	var calls int32
	require.NoError(t, s.Register(jobs.Job{
		Name: jobs.ResolveShifts,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("store down")
		},
	}))

	// WHEN: Running it
	ran, err := s.RunNow(context.Background(), jobs.ResolveShifts)

	// THEN: The error surfaces and the status keeps it
	assert.True(t, ran)
	assert.EqualError(t, err, "store down")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	statuses := s.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, 1, statuses[0].Runs)
	assert.Equal(t, "store down", statuses[0].LastErr)
	assert.False(t, statuses[0].Running)
}

func TestRunNow_SkipsWhileRunning(t *testing.T) {
	// GIVEN: A job blocked mid-run
	s := jobs.NewScheduler(zap.NewNop())
	started, release := make(chan struct{}), make(chan struct{})
	require.NoError(t, s.Register(jobs.Job{
		Name: jobs.RemoveDuplicates,
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))
	done := make(chan bool)
	go func() {
		ran, _ := s.RunNow(context.Background(), jobs.RemoveDuplicates)
		done <- ran
	}()
	<-started

	// WHEN: Triggering it again
	ran, err := s.RunNow(context.Background(), jobs.RemoveDuplicates)

	// THEN: The second run is skipped, the first completes
	require.NoError(t, err)
	assert.False(t, ran)
	close(release)
	assert.True(t, <-done)
	assert.Equal(t, 1, s.Statuses()[0].Skipped)
}

func TestRunNow_UnknownJob(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())

	_, err := s.RunNow(context.Background(), "nope")

	assert.ErrorIs(t, err, jobs.ErrUnknownJob)
}

func TestRegister_Validation(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Register(jobs.Job{Name: "x"}))
	assert.Error(t, s.Register(jobs.Job{Name: "bad", Spec: "every tuesday", Run: noop}))
	require.NoError(t, s.Register(jobs.Job{Name: "ok", Spec: "@every 1h", Run: noop}))
	assert.Error(t, s.Register(jobs.Job{Name: "ok", Run: noop}))

	s.Start()
	defer s.Stop()
	st := s.Statuses()
	require.Len(t, st, 1)
	assert.WithinDuration(t, time.Now().Add(time.Hour), st[0].NextRun, time.Minute)
}

type heldLock struct{}

func (heldLock) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func TestRunNow_RespectsSharedLock(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop(), jobs.WithLocker(heldLock{}))
	var calls int32
	require.NoError(t, s.Register(jobs.Job{Name: jobs.ResolveShifts, Run: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}}))

	ran, err := s.RunNow(context.Background(), jobs.ResolveShifts)

	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, atomic.LoadInt32(&calls))
}
