// Package messaging carries auto-reply jobs over Redis Streams.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tracker_server/core/port/out"
)

const (
	StreamAutoReply = "autoreply:jobs"

	jobTypeAutoReply = "autoreply.send"
)

// Envelope is the JSON document stored in a stream entry's data field.
// The worker decodes it as its job Message.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// RedisProducer implements out.AutoReplyJobQueue using Redis Streams.
type RedisProducer struct {
	client *redis.Client
	maxLen int64
}

func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client, maxLen: 100000}
}

// SubmitAutoReply publishes an auto-reply job.
func (p *RedisProducer) SubmitAutoReply(ctx context.Context, job *out.AutoReplyJob) error {
	env, err := newAutoReplyEnvelope(job, time.Now())
	if err != nil {
		return err
	}
	return p.publish(ctx, StreamAutoReply, env)
}

func newAutoReplyEnvelope(job *out.AutoReplyJob, at time.Time) (*Envelope, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode auto-reply job: %w", err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Type:      jobTypeAutoReply,
		Payload:   payload,
		CreatedAt: at,
	}, nil
}

func (p *RedisProducer) publish(ctx context.Context, stream string, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	return nil
}

var _ out.AutoReplyJobQueue = (*RedisProducer)(nil)
