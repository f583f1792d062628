// Package provider implements the Gmail mailbox used for scanning,
// reading and replying to application mail.
package provider

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"tracker_server/core/domain"
	"tracker_server/core/port/out"
	"tracker_server/core/service/filtering"
	"tracker_server/pkg/apperr"
)

const (
	noContentBody = "(No content available)"

	maxMetadataConcurrency = 10
	perMessageTimeout      = 15 * time.Second
)

type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	CandidateLimit int
	MaxResults     int
	NewerThanDays  int

	// SafeRecipient, when set, receives every outgoing reply instead of
	// the real sender. Used in development.
	SafeRecipient string

	// HTTPClient carries Gmail and token endpoint traffic. Nil uses
	// http.DefaultClient.
	HTTPClient *http.Client
}

// GmailMailbox implements out.MailFetcher and out.MailSender on top of the
// Gmail API, using tokens stored in the connection repository.
type GmailMailbox struct {
	oauth *oauth2.Config
	conns out.ConnectionRepository
	cfg   GmailConfig
	cb    *gobreaker.CircuitBreaker
	log   zerolog.Logger
}

func NewGmailMailbox(cfg GmailConfig, conns out.ConnectionRepository, log zerolog.Logger) *GmailMailbox {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 20
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 500
	}

	log = log.With().Str("component", "gmail").Logger()

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		// per-user client and token errors pass through uncounted
		IsSuccessful: func(err error) bool {
			return err == nil || !tripsBreaker(err)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &GmailMailbox{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				gmail.GmailReadonlyScope,
				gmail.GmailSendScope,
			},
			Endpoint: google.Endpoint,
		},
		conns: conns,
		cfg:   cfg,
		cb:    gobreaker.NewCircuitBreaker(cbSettings),
		log:   log,
	}
}

// ScanCandidates lists recent application mail and returns up to
// CandidateLimit messages that pass the relevance filter, in Gmail's order.
func (m *GmailMailbox) ScanCandidates(ctx context.Context, userID string) ([]domain.RawEmail, error) {
	conn, svc, err := m.session(ctx, userID)
	if err != nil {
		return nil, err
	}

	var list *gmail.ListMessagesResponse
	err = m.execute(ctx, conn, "list", func() error {
		var apiErr error
		list, apiErr = svc.Users.Messages.List("me").
			Q(jobSearchQuery(m.cfg.NewerThanDays)).
			MaxResults(int64(m.cfg.MaxResults)).
			Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, err
	}
	if len(list.Messages) == 0 {
		return []domain.RawEmail{}, nil
	}

	metas := m.fetchMetadata(ctx, conn, svc, list.Messages)

	candidates := make([]domain.RawEmail, 0, m.cfg.CandidateLimit)
	for _, msg := range metas {
		if len(candidates) >= m.cfg.CandidateLimit {
			break
		}
		if msg == nil {
			continue
		}
		headers := messageHeaders(msg)
		subject := getHeader(headers, "Subject")
		from := getHeader(headers, "From")
		snippet := html.UnescapeString(msg.Snippet)

		if !filtering.IsJobRelated(subject, snippet, from, conn.Email) {
			continue
		}
		candidates = append(candidates, domain.RawEmail{
			ID:       msg.Id,
			ThreadID: msg.ThreadId,
			Subject:  subject,
			Sender:   from,
			Snippet:  snippet,
			Date:     getHeader(headers, "Date"),
		})
	}

	m.log.Info().
		Str("user_id", userID).
		Int("listed", len(list.Messages)).
		Int("candidates", len(candidates)).
		Msg("scan complete")
	return candidates, nil
}

// fetchMetadata gets Subject/From/Date for each reference with bounded
// concurrency. Failed fetches leave a nil slot.
func (m *GmailMailbox) fetchMetadata(ctx context.Context, conn *domain.MailConnection, svc *gmail.Service, refs []*gmail.Message) []*gmail.Message {
	results := make([]*gmail.Message, len(refs))
	sem := make(chan struct{}, maxMetadataConcurrency)
	var wg sync.WaitGroup

	for i, ref := range refs {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			msgCtx, cancel := context.WithTimeout(ctx, perMessageTimeout)
			defer cancel()

			var msg *gmail.Message
			err := m.execute(msgCtx, conn, "metadata", func() error {
				var apiErr error
				msg, apiErr = svc.Users.Messages.Get("me", id).
					Format("metadata").
					MetadataHeaders(scanHeaders...).
					Context(msgCtx).Do()
				return apiErr
			})
			if err != nil {
				m.log.Debug().Err(err).Str("message_id", id).Msg("metadata fetch failed")
				return
			}
			results[idx] = msg
		}(i, ref.Id)
	}
	wg.Wait()
	return results
}

// GetFullEmail fetches one message with its decoded, cleaned body.
func (m *GmailMailbox) GetFullEmail(ctx context.Context, userID, messageID string) (*domain.FullEmail, error) {
	conn, svc, err := m.session(ctx, userID)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	err = m.execute(ctx, conn, "get", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, err
	}

	var body messageBody
	extractBody(msg.Payload, &body)
	cleaned := filtering.CleanEmailBody(body.preferred())
	if cleaned == "" {
		cleaned = noContentBody
	}

	headers := messageHeaders(msg)
	return &domain.FullEmail{
		ID:      messageID,
		From:    getHeader(headers, "From"),
		Subject: getHeader(headers, "Subject"),
		Date:    getHeader(headers, "Date"),
		Body:    cleaned,
	}, nil
}

// SendReply sends a plain-text reply in the given thread.
func (m *GmailMailbox) SendReply(ctx context.Context, req *out.ReplyRequest) (*out.ReplyResult, error) {
	conn, svc, err := m.session(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	to := req.To
	if m.cfg.SafeRecipient != "" {
		to = m.cfg.SafeRecipient
	}
	if to == "" {
		return nil, apperr.BadRequest("reply has no recipient")
	}

	gmailMsg := &gmail.Message{
		Raw:      encodeRawMessage(buildReplyMessage(to, req.Subject, req.Body)),
		ThreadId: req.ThreadID,
	}

	var sent *gmail.Message
	err = m.execute(ctx, conn, "send", func() error {
		var apiErr error
		sent, apiErr = svc.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, err
	}

	return &out.ReplyResult{MessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// session loads the user's connection and builds a Gmail client whose
// refreshed tokens are written back to the repository.
func (m *GmailMailbox) session(ctx context.Context, userID string) (*domain.MailConnection, *gmail.Service, error) {
	conn, err := m.conns.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, out.ErrConnectionNotFound) {
			return nil, nil, apperr.GmailNotConnected()
		}
		return nil, nil, apperr.DatabaseError("load mail connection", err)
	}
	if conn == nil || !conn.IsConnected || (conn.AccessToken == "" && conn.RefreshToken == "") {
		return nil, nil, apperr.GmailNotConnected()
	}

	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
	}
	if conn.ExpiresAt != nil {
		token.Expiry = *conn.ExpiresAt
	}

	clientCtx := m.clientContext(ctx)
	ts := newPersistingTokenSource(ctx, m.oauth.TokenSource(clientCtx, token), m.conns, conn, m.log)
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(clientCtx, ts)))
	if err != nil {
		return nil, nil, apperr.ExternalError("gmail", err)
	}
	return conn, svc, nil
}

// clientContext attaches the configured HTTP client for oauth2 to pick up.
func (m *GmailMailbox) clientContext(ctx context.Context) context.Context {
	if m.cfg.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.cfg.HTTPClient)
}

// execute runs a Gmail call behind the circuit breaker and maps its error.
func (m *GmailMailbox) execute(ctx context.Context, conn *domain.MailConnection, operation string, fn func() error) error {
	_, err := m.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}

	if isInvalidGrant(err) {
		m.log.Warn().Str("user_id", conn.UserID).Msg("refresh token rejected, disconnecting gmail")
		if derr := m.conns.Disconnect(ctx, conn.ID); derr != nil {
			m.log.Error().Err(derr).Int64("connection_id", conn.ID).Msg("failed to disconnect mail connection")
		}
		return apperr.GmailReauthRequired(err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 404 {
		return apperr.NotFound("email")
	}

	m.log.Error().Err(err).Str("operation", operation).Str("breaker", m.cb.State().String()).Msg("gmail call failed")
	return apperr.ExternalError("gmail", fmt.Errorf("%s: %w", operation, err))
}

// tripsBreaker reports whether err counts as a Gmail outage. Client
// errors and token problems do not.
func tripsBreaker(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400, 401, 403, 404:
			return false
		}
	}
	return true
}

func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	return re.ErrorCode == "invalid_grant" || strings.Contains(string(re.Body), "invalid_grant")
}

func (m *GmailMailbox) IsCircuitOpen() bool {
	return m.cb.State() == gobreaker.StateOpen
}

var (
	_ out.MailFetcher = (*GmailMailbox)(nil)
	_ out.MailSender  = (*GmailMailbox)(nil)
)
