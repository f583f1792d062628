// Package push sends device notifications through Firebase Cloud Messaging
// and the Expo push service.
package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"tracker_server/core/port/out"
)

const dataType = "auto_reply"

// Notifier implements out.PushNotifier. Each registered token goes to the
// service that issued it.
type Notifier struct {
	fcm    MulticastSender
	expo   *ExpoClient
	tokens out.ConnectionRepository
	log    zerolog.Logger
}

type Option func(*Notifier)

func WithFCM(sender MulticastSender) Option {
	return func(n *Notifier) { n.fcm = sender }
}

func WithExpo(client *ExpoClient) Option {
	return func(n *Notifier) { n.expo = client }
}

func NewNotifier(tokens out.ConnectionRepository, log zerolog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		tokens: tokens,
		log:    log.With().Str("component", "push").Logger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type delivery struct {
	sent, failed int
}

// NotifyUser sends title/body to every device token registered for the
// user. A user with no tokens is not an error.
func (n *Notifier) NotifyUser(ctx context.Context, userID, title, body string) error {
	tokens, err := n.tokens.ListPushTokens(ctx, userID)
	if err != nil {
		return fmt.Errorf("list push tokens: %w", err)
	}
	if len(tokens) == 0 {
		n.log.Debug().Str("user_id", userID).Msg("no push tokens, skipping")
		return nil
	}

	var fcmTokens, expoTokens []string
	for _, t := range tokens {
		if IsExpoToken(t) {
			expoTokens = append(expoTokens, t)
		} else {
			fcmTokens = append(fcmTokens, t)
		}
	}

	log := n.log.With().Str("user_id", userID).Logger()
	var total delivery
	var errs []error

	if len(fcmTokens) > 0 {
		if n.fcm == nil {
			log.Warn().Int("tokens", len(fcmTokens)).Msg("fcm not configured, tokens skipped")
		} else {
			d, err := n.sendFCM(ctx, log, fcmTokens, title, body)
			total.sent += d.sent
			total.failed += d.failed
			errs = append(errs, err)
		}
	}
	if len(expoTokens) > 0 {
		if n.expo == nil {
			log.Warn().Int("tokens", len(expoTokens)).Msg("expo not configured, tokens skipped")
		} else {
			d, err := n.sendExpo(ctx, log, expoTokens, title, body)
			total.sent += d.sent
			total.failed += d.failed
			errs = append(errs, err)
		}
	}

	log.Info().Int("sent", total.sent).Int("failed", total.failed).Msg("push sent")
	return errors.Join(errs...)
}

func (n *Notifier) sendExpo(ctx context.Context, log zerolog.Logger, tokens []string, title, body string) (delivery, error) {
	var d delivery
	for start := 0; start < len(tokens); start += maxMessagesPerExpoRequest {
		batch := tokens[start:min(start+maxMessagesPerExpoRequest, len(tokens))]

		messages := make([]expoMessage, len(batch))
		for i, t := range batch {
			messages[i] = expoMessage{
				To:    t,
				Title: title,
				Body:  body,
				Sound: "default",
				Data:  map[string]string{"type": dataType},
			}
		}

		tickets, err := n.expo.send(ctx, messages)
		if err != nil {
			return d, fmt.Errorf("send expo push: %w", err)
		}
		for i, ticket := range tickets {
			if ticket.Status == "ok" {
				d.sent++
				continue
			}
			d.failed++
			log.Warn().
				Str("token", redact(batch[i])).
				Str("error", ticket.Details.Error).
				Str("message", ticket.Message).
				Msg("expo delivery failed")
		}
	}
	return d, nil
}

func redact(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:12] + "..."
}

var _ out.PushNotifier = (*Notifier)(nil)
