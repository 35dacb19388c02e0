/*
Package messaging carries inbound events from drivers' devices, the task
system and maintenance triggers.

PURPOSE:
  Other systems publish JSON messages on named topics. Handlers turn them
  into work events or sweep runs.

DESIGN:
  - Bus is the publish/subscribe contract; Local delivers in-process,
    RedisBus delivers through a Redis Streams consumer group
  - A handler error decides the fate of the message: nil and permanent
    errors (validation, not found, conflict) are acknowledged, anything
    else stays pending and is delivered again
  - Every delivery is counted in bus_messages_total{topic,result}

SEE ALSO:
  - handlers.go: Topic handlers
  - redis.go: Redis Streams transport
*/
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/warp/worktime-engine/metrics"
	"github.com/warp/worktime-engine/worktime"
)

// Message is one delivery.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
}

// Decode unmarshals the payload. Malformed payloads are validation errors
// so they are never redelivered.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return worktime.Invalid("payload", err.Error())
	}
	return nil
}

// Handler processes one message.
type Handler func(ctx context.Context, msg Message) error

// Bus publishes and subscribes to topics.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, h Handler)
}

// dispatch runs the handler and reports whether the message is done.
func dispatch(ctx context.Context, logger *zap.Logger, h Handler, msg Message) (ack bool, err error) {
	err = h(ctx, msg)
	switch {
	case err == nil:
		metrics.BusMessages.WithLabelValues(msg.Topic, metrics.ResultOK).Inc()
		return true, nil
	case worktime.IsPermanent(err):
		metrics.BusMessages.WithLabelValues(msg.Topic, metrics.ResultRejected).Inc()
		logger.Warn("message rejected",
			zap.String("topic", msg.Topic),
			zap.String("id", msg.ID),
			zap.Error(err))
		return true, err
	default:
		metrics.BusMessages.WithLabelValues(msg.Topic, metrics.ResultRetry).Inc()
		logger.Error("message failed",
			zap.String("topic", msg.Topic),
			zap.String("id", msg.ID),
			zap.Error(err))
		return false, err
	}
}

// =============================================================================
// LOCAL BUS
// =============================================================================

// Local delivers synchronously to the subscribers of a topic. Publish
// returns the handlers' errors.
type Local struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	seq      int64
}

func NewLocal(logger *zap.Logger) *Local {
	return &Local{logger: logger.Named("bus"), handlers: make(map[string][]Handler)}
}

func (b *Local) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

func (b *Local) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}

	b.mu.Lock()
	b.seq++
	msg := Message{ID: fmt.Sprint(b.seq), Topic: topic, Payload: data}
	handlers := b.handlers[topic]
	b.mu.Unlock()

	if len(handlers) == 0 {
		metrics.BusMessages.WithLabelValues(topic, metrics.ResultDropped).Inc()
		return nil
	}
	var errs []error
	for _, h := range handlers {
		if _, err := dispatch(ctx, b.logger, h, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
