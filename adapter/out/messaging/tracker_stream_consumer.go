package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// JobHandler processes one decoded stream entry.
type JobHandler interface {
	Handle(ctx context.Context, stream string, data []byte) error
}

type ConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Handler  JobHandler
	Logger   zerolog.Logger

	BatchSize            int
	Block                time.Duration
	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
}

// Consumer reads streams through a consumer group. An entry is acked only
// after its handler succeeds. Entries left pending are reclaimed once idle
// and moved to dlq:<stream> after maxRetries deliveries.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string
	handler  JobHandler
	log      zerolog.Logger

	batchSize            int64
	block                time.Duration
	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int64
	now                  func() time.Time
}

func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	return &Consumer{
		client:               client,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		streams:              cfg.Streams,
		handler:              cfg.Handler,
		log:                  cfg.Logger.With().Str("component", "stream_consumer").Logger(),
		batchSize:            int64(positive(cfg.BatchSize, 10)),
		block:                positiveDur(cfg.Block, 5*time.Second),
		pendingCheckInterval: positiveDur(cfg.PendingCheckInterval, 30*time.Second),
		pendingIdleTime:      positiveDur(cfg.PendingIdleTime, 2*time.Minute),
		maxRetries:           int64(positive(cfg.MaxRetries, 3)),
		now:                  time.Now,
	}
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func positiveDur(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.streams) == 0 {
		return errors.New("consumer has no streams")
	}
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Strs("streams", c.streams).
		Msg("consumer started")

	for _, stream := range c.streams {
		c.ensureGroup(ctx, stream)
	}
	go c.reclaimLoop(ctx)

	for ctx.Err() == nil {
		batches, err := c.read(ctx)
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil) || ctx.Err() != nil:
			continue
		default:
			c.log.Error().Err(err).Msg("stream read failed")
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, batch := range batches {
			for _, entry := range batch.Messages {
				c.deliver(ctx, batch.Stream, entry)
			}
		}
	}
	return ctx.Err()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Consumer) ensureGroup(ctx context.Context, stream string) {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		c.log.Warn().Err(err).Str("stream", stream).Msg("create consumer group failed")
	}
}

func (c *Consumer) read(ctx context.Context) ([]redis.XStream, error) {
	// XREADGROUP wants every stream name, then one ">" per stream
	args := append([]string{}, c.streams...)
	for range c.streams {
		args = append(args, ">")
	}

	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  args,
		Count:    c.batchSize,
		Block:    c.block,
	}).Result()
}

// deliver runs the handler and acks on success. Failures stay pending.
func (c *Consumer) deliver(ctx context.Context, stream string, entry redis.XMessage) bool {
	log := c.log.With().Str("stream", stream).Str("entry_id", entry.ID).Logger()

	data, err := messageData(entry)
	if err == nil {
		err = c.handler.Handle(ctx, stream, data)
	}
	if err != nil {
		log.Error().Err(err).Msg("job failed, left pending")
		return false
	}

	if err := c.client.XAck(ctx, stream, c.group, entry.ID).Err(); err != nil {
		log.Error().Err(err).Msg("ack failed")
		return false
	}
	return true
}

func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, stream := range c.streams {
				c.reclaim(ctx, stream)
			}
		}
	}
}

// reclaim dead-letters exhausted entries and redelivers the rest of the
// idle pending entries to this consumer.
func (c *Consumer) reclaim(ctx context.Context, stream string) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Idle:   c.pendingIdleTime,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Error().Err(err).Str("stream", stream).Msg("list pending failed")
		}
		return
	}

	var retry []string
	for _, p := range pending {
		if p.RetryCount < c.maxRetries {
			retry = append(retry, p.ID)
			continue
		}
		if err := c.deadLetter(ctx, stream, p.ID); err != nil {
			c.log.Error().Err(err).Str("entry_id", p.ID).Msg("dead-letter failed")
			continue
		}
		c.log.Warn().
			Str("stream", stream).
			Str("entry_id", p.ID).
			Int64("deliveries", p.RetryCount).
			Msg("job dead-lettered")
	}
	if len(retry) == 0 {
		return
	}

	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.pendingIdleTime,
		Messages: retry,
	}).Result()
	if err != nil {
		c.log.Error().Err(err).Str("stream", stream).Msg("claim pending failed")
		return
	}
	for _, entry := range claimed {
		if c.deliver(ctx, stream, entry) {
			c.log.Info().Str("stream", stream).Str("entry_id", entry.ID).Msg("pending job redelivered")
		}
	}
}

// deadLetter copies the entry to the DLQ stream and acks it in one
// transaction.
func (c *Consumer) deadLetter(ctx context.Context, stream, id string) error {
	entries, err := c.client.XRange(ctx, stream, id, id).Result()
	if err != nil {
		return fmt.Errorf("read entry: %w", err)
	}
	if len(entries) == 0 {
		return c.client.XAck(ctx, stream, c.group, id).Err()
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: deadLetterStream(stream),
			Values: c.deadLetterValues(stream, entries[0]),
		})
		pipe.XAck(ctx, stream, c.group, id)
		return nil
	})
	return err
}

func deadLetterStream(stream string) string {
	return "dlq:" + stream
}

func (c *Consumer) deadLetterValues(stream string, entry redis.XMessage) map[string]any {
	values := make(map[string]any, len(entry.Values)+5)
	for k, v := range entry.Values {
		values["original_"+k] = v
	}
	values["original_stream"] = stream
	values["original_id"] = entry.ID
	values["failed_at"] = c.now().UTC().Format(time.RFC3339)
	values["consumer"] = c.consumer
	values["group"] = c.group
	return values
}

func messageData(entry redis.XMessage) ([]byte, error) {
	raw, ok := entry.Values["data"]
	if !ok {
		return nil, fmt.Errorf("entry %s has no data field", entry.ID)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("entry %s data is %T, not string", entry.ID, raw)
	}
	return []byte(s), nil
}
