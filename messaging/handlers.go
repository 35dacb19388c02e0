package messaging

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/worktime-engine/jobs"
	"github.com/warp/worktime-engine/tracking"
	"github.com/warp/worktime-engine/worktime"
)

// Topics.
const (
	TopicDriverState      = "driver.state-changed"
	TopicTaskProgress     = "task.progress"
	TopicRemoveDuplicates = "maintenance.remove-duplicates"
	TopicResolveShifts    = "maintenance.resolve-shifts"
)

// KnownTopic reports whether a topic has a handler.
func KnownTopic(topic string) bool {
	switch topic {
	case TopicDriverState, TopicTaskProgress, TopicRemoveDuplicates, TopicResolveShifts:
		return true
	}
	return false
}

// DriverStateChanged is published by the drivers' devices.
type DriverStateChanged struct {
	DriverID      string             `json:"driverId"`
	WorkTypeID    *string            `json:"workTypeId,omitempty"`
	WorkEventType worktime.EventType `json:"workEventType"`
	Time          time.Time          `json:"time"`
	TruckID       *string            `json:"truckId,omitempty"`
}

// TaskProgressed is published by the task system.
type TaskProgressed struct {
	UserID     string              `json:"userId"`
	TaskType   tracking.TaskType   `json:"taskType"`
	TaskStatus tracking.TaskStatus `json:"taskStatus"`
	TruckID    *string             `json:"truckId,omitempty"`
	EventTime  time.Time           `json:"eventTime"`
}

// EventRecorder records inbound events as work events.
type EventRecorder interface {
	RecordDriverState(ctx context.Context, m worktime.Mutation, c tracking.DriverStateChange) (worktime.WorkEvent, error)
	RecordTaskProgress(ctx context.Context, m worktime.Mutation, p tracking.TaskProgress) (worktime.WorkEvent, error)
}

// JobRunner runs a maintenance job on demand.
type JobRunner interface {
	RunNow(ctx context.Context, name string) (bool, error)
}

// Subscribe wires every topic handler to the bus.
func Subscribe(bus Bus, rec EventRecorder, runner JobRunner, logger *zap.Logger) {
	h := &handlers{rec: rec, runner: runner, logger: logger.Named("handlers")}
	bus.Subscribe(TopicDriverState, h.driverState)
	bus.Subscribe(TopicTaskProgress, h.taskProgress)
	bus.Subscribe(TopicRemoveDuplicates, h.job(jobs.RemoveDuplicates))
	bus.Subscribe(TopicResolveShifts, h.job(jobs.ResolveShifts))
}

type handlers struct {
	rec    EventRecorder
	runner JobRunner
	logger *zap.Logger
}

func (h *handlers) driverState(ctx context.Context, msg Message) error {
	var in DriverStateChanged
	if err := msg.Decode(&in); err != nil {
		return err
	}
	_, err := h.rec.RecordDriverState(ctx, worktime.SystemMutation(), tracking.DriverStateChange{
		DriverID:   in.DriverID,
		WorkTypeID: in.WorkTypeID,
		EventType:  in.WorkEventType,
		Time:       in.Time,
		TruckID:    in.TruckID,
	})
	return err
}

func (h *handlers) taskProgress(ctx context.Context, msg Message) error {
	var in TaskProgressed
	if err := msg.Decode(&in); err != nil {
		return err
	}
	_, err := h.rec.RecordTaskProgress(ctx, worktime.SystemMutation(), tracking.TaskProgress{
		EmployeeID: in.UserID,
		Type:       in.TaskType,
		Status:     in.TaskStatus,
		TruckID:    in.TruckID,
		Time:       in.EventTime,
	})
	return err
}

func (h *handlers) job(name string) Handler {
	return func(ctx context.Context, msg Message) error {
		ran, err := h.runner.RunNow(ctx, name)
		if err != nil {
			return err
		}
		if !ran {
			h.logger.Debug("job already running", zap.String("job", name))
		}
		return nil
	}
}
