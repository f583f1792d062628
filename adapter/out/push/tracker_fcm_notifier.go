package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// FCM rejects multicast messages with more tokens than this.
const maxTokensPerMulticast = 500

// MulticastSender is the part of the FCM messaging client the notifier uses.
type MulticastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// NewFCMSender initialises a Firebase app from a service-account file.
// An empty path falls back to application default credentials.
func NewFCMSender(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	return client, nil
}

func (n *Notifier) sendFCM(ctx context.Context, log zerolog.Logger, tokens []string, title, body string) (delivery, error) {
	var d delivery
	for start := 0; start < len(tokens); start += maxTokensPerMulticast {
		batch := tokens[start:min(start+maxTokensPerMulticast, len(tokens))]

		resp, err := n.fcm.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: batch,
			Notification: &messaging.Notification{
				Title: title,
				Body:  body,
			},
			Data: map[string]string{"type": dataType},
			APNS: &messaging.APNSConfig{
				Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: "default"}},
			},
		})
		if err != nil {
			return d, fmt.Errorf("send multicast: %w", err)
		}

		d.sent += resp.SuccessCount
		d.failed += resp.FailureCount
		for i, r := range resp.Responses {
			if !r.Success {
				log.Warn().Err(r.Error).Str("token", redact(batch[i])).Msg("fcm delivery failed")
			}
		}
	}
	return d, nil
}
