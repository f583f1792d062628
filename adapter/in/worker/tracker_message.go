package worker

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"tracker_server/core/port/out"
)

type JobType = string

const JobAutoReply JobType = "autoreply.send"

// Message is the job envelope used by the pool and by stream entries.
// Attempt counts local retries and never goes on the wire.
type Message struct {
	ID         string          `json:"id"`
	Type       JobType         `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"created_at"`
	Attempt    int             `json:"-"`
}

func NewMessage(jobType JobType, payload any) (*Message, error) {
	msg := &Message{ID: uuid.NewString(), Type: jobType, EnqueuedAt: time.Now()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", jobType, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

func NewAutoReplyMessage(job *out.AutoReplyJob) (*Message, error) {
	return NewMessage(JobAutoReply, job)
}

// DecodePayload unmarshals msg's payload into T.
func DecodePayload[T any](msg *Message) (*T, error) {
	var payload T
	if len(msg.Payload) == 0 {
		return &payload, nil
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
