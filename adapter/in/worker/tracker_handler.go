package worker

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"tracker_server/core/port/out"
	"tracker_server/pkg/logger"
)

// AutoReplyHandler performs the send side of an auto-reply job.
type AutoReplyHandler interface {
	HandleAutoReply(ctx context.Context, job *out.AutoReplyJob) error
}

type Handler struct {
	autoReply AutoReplyHandler
}

func NewHandler(autoReply AutoReplyHandler) *Handler {
	return &Handler{autoReply: autoReply}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobAutoReply:
		job, err := DecodePayload[out.AutoReplyJob](msg)
		if err != nil {
			return fmt.Errorf("parse auto-reply payload: %w", err)
		}
		if job.ApplicationID == "" || job.ClaimID == "" {
			logger.Warn("Dropping auto-reply message %s with empty ids", msg.ID)
			return nil
		}
		return h.autoReply.HandleAutoReply(ctx, job)

	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

// Handle decodes a raw stream entry and processes it. It satisfies the
// stream consumer's JobHandler.
func (h *Handler) Handle(ctx context.Context, stream string, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode message from %s: %w", stream, err)
	}
	return h.Process(ctx, &msg)
}
