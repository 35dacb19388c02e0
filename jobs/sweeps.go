package jobs

import (
	"context"

	"github.com/warp/worktime-engine/tracking"
)

// maxSweepsPerRun bounds one duplicate-removal run.
const maxSweepsPerRun = 500

// DuplicateSweeper cleans one shift per call.
type DuplicateSweeper interface {
	Sweep(ctx context.Context) (tracking.SweepResult, error)
}

// ShiftCloser ends idle shifts.
type ShiftCloser interface {
	CloseIdleShifts(ctx context.Context) (int, error)
}

// RemoveDuplicatesJob sweeps shifts until none is left to check.
func RemoveDuplicatesJob(spec string, c DuplicateSweeper) Job {
	return Job{
		Name: RemoveDuplicates,
		Spec: spec,
		Run: func(ctx context.Context) error {
			for i := 0; i < maxSweepsPerRun; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				res, err := c.Sweep(ctx)
				if err != nil {
					return err
				}
				if res.ShiftID == 0 {
					return nil
				}
			}
			return nil
		},
	}
}

// ResolveShiftsJob closes shifts that went idle.
func ResolveShiftsJob(spec string, c ShiftCloser) Job {
	return Job{
		Name: ResolveShifts,
		Spec: spec,
		Run: func(ctx context.Context) error {
			_, err := c.CloseIdleShifts(ctx)
			return err
		},
	}
}
