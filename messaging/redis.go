package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/worktime-engine/metrics"
)

// =============================================================================
// CONNECTION
// =============================================================================

// Connect opens a Redis client and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}

	logger.Info("redis connected", zap.String("addr", addr))
	return rdb, nil
}

// =============================================================================
// STREAMS BUS
// =============================================================================

// StreamConfig names the stream and the consumer.
type StreamConfig struct {
	Stream   string
	Group    string
	Consumer string

	// Block is how long one read waits for new entries.
	Block time.Duration
	// ClaimIdle is how long an entry stays pending before another
	// delivery is attempted.
	ClaimIdle time.Duration
	Batch     int64
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = time.Minute
	}
	if c.Batch <= 0 {
		c.Batch = 32
	}
	return c
}

// RedisBus publishes to one stream and consumes it through a consumer
// group. Entries carry the topic and the JSON payload as fields.
type RedisBus struct {
	rdb    *redis.Client
	cfg    StreamConfig
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewRedisBus(rdb *redis.Client, cfg StreamConfig, logger *zap.Logger) *RedisBus {
	return &RedisBus{
		rdb:      rdb,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("bus"),
		handlers: make(map[string][]Handler),
	}
}

func (b *RedisBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	return b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Stream,
		Values: map[string]any{"topic": topic, "payload": string(data)},
	}).Err()
}

// Run consumes until ctx is cancelled. Pending entries older than
// ClaimIdle are claimed before each read.
func (b *RedisBus) Run(ctx context.Context) error {
	err := b.rdb.XGroupCreateMkStream(ctx, b.cfg.Stream, b.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", b.cfg.Group, err)
	}
	b.logger.Info("consuming",
		zap.String("stream", b.cfg.Stream),
		zap.String("group", b.cfg.Group),
		zap.String("consumer", b.cfg.Consumer))

	for ctx.Err() == nil {
		if err := b.reclaim(ctx); err != nil && ctx.Err() == nil {
			b.logger.Warn("reclaim failed", zap.Error(err))
		}
		if err := b.read(ctx); err != nil && ctx.Err() == nil {
			b.logger.Warn("read failed", zap.Error(err))
			sleep(ctx, time.Second)
		}
	}
	return nil
}

func (b *RedisBus) read(ctx context.Context) error {
	streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		Streams:  []string{b.cfg.Stream, ">"},
		Count:    b.cfg.Batch,
		Block:    b.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, s := range streams {
		for _, xm := range s.Messages {
			b.handle(ctx, xm)
		}
	}
	return nil
}

func (b *RedisBus) reclaim(ctx context.Context) error {
	start := "0-0"
	for {
		msgs, next, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   b.cfg.Stream,
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			MinIdle:  b.cfg.ClaimIdle,
			Start:    start,
			Count:    b.cfg.Batch,
		}).Result()
		if err != nil {
			return err
		}
		for _, xm := range msgs {
			b.handle(ctx, xm)
		}
		if next == "0-0" || len(msgs) == 0 {
			return nil
		}
		start = next
	}
}

func (b *RedisBus) handle(ctx context.Context, xm redis.XMessage) {
	msg, ok := decodeEntry(xm)
	if !ok {
		metrics.BusMessages.WithLabelValues("unknown", metrics.ResultDropped).Inc()
		b.logger.Warn("malformed stream entry dropped", zap.String("id", xm.ID))
		b.ack(ctx, xm.ID)
		return
	}

	b.mu.RLock()
	handlers := b.handlers[msg.Topic]
	b.mu.RUnlock()
	if len(handlers) == 0 {
		metrics.BusMessages.WithLabelValues(msg.Topic, metrics.ResultDropped).Inc()
		b.ack(ctx, xm.ID)
		return
	}

	for _, h := range handlers {
		if ack, _ := dispatch(ctx, b.logger, h, msg); !ack {
			return
		}
	}
	b.ack(ctx, xm.ID)
}

func (b *RedisBus) ack(ctx context.Context, id string) {
	if err := b.rdb.XAck(ctx, b.cfg.Stream, b.cfg.Group, id).Err(); err != nil {
		b.logger.Warn("ack failed", zap.String("id", id), zap.Error(err))
	}
}

func decodeEntry(xm redis.XMessage) (Message, bool) {
	topic, ok := xm.Values["topic"].(string)
	if !ok || topic == "" {
		return Message{}, false
	}
	payload, ok := xm.Values["payload"].(string)
	if !ok {
		return Message{}, false
	}
	return Message{ID: xm.ID, Topic: topic, Payload: []byte(payload)}, true
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
