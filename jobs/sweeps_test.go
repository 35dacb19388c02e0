package jobs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/worktime-engine/jobs"
	"github.com/warp/worktime-engine/tracking"
)

type scriptedSweeper struct {
	results []tracking.SweepResult
	err     error
	calls   int
}

func (s *scriptedSweeper) Sweep(context.Context) (tracking.SweepResult, error) {
	s.calls++
	if s.err != nil {
		return tracking.SweepResult{}, s.err
	}
	if len(s.results) == 0 {
		return tracking.SweepResult{}, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}

func TestRemoveDuplicatesJob_SweepsUntilNothingLeft(t *testing.T) {
	// GIVEN: Two shifts to check, the first needing two passes
	sw := &scriptedSweeper{results: []tracking.SweepResult{
		{ShiftID: 1, Removed: 3},
		{ShiftID: 1, Checked: true},
		{ShiftID: 2, Checked: true},
	}}
	job := jobs.RemoveDuplicatesJob("@every 10m", sw)

	// WHEN: The job runs
	err := job.Run(context.Background())

	// THEN: It stops at the first empty sweep
	require.NoError(t, err)
	assert.Equal(t, 4, sw.calls)
	assert.Equal(t, jobs.RemoveDuplicates, job.Name)
}

func TestRemoveDuplicatesJob_StopsOnError(t *testing.T) {
	sw := &scriptedSweeper{err: errors.New("locked")}

	err := jobs.RemoveDuplicatesJob("", sw).Run(context.Background())

	assert.EqualError(t, err, "locked")
	assert.Equal(t, 1, sw.calls)
}

type closerFunc func(context.Context) (int, error)

func (f closerFunc) CloseIdleShifts(ctx context.Context) (int, error) { return f(ctx) }

func TestResolveShiftsJob(t *testing.T) {
	calls := 0
	job := jobs.ResolveShiftsJob("@hourly", closerFunc(func(context.Context) (int, error) {
		calls++
		return 2, nil
	}))

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "@hourly", job.Spec)
}
