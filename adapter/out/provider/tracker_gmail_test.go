package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"tracker_server/core/domain"
	"tracker_server/pkg/apperr"
)

type connRepoStub struct {
	conn    *domain.MailConnection
	updates []string
	expires []*time.Time
	err     error
}

func (r *connRepoStub) GetByUser(ctx context.Context, userID string) (*domain.MailConnection, error) {
	return r.conn, nil
}

func (r *connRepoStub) UpdateTokens(ctx context.Context, id int64, access, refresh string, expiresAt *time.Time) error {
	r.updates = append(r.updates, access+"|"+refresh)
	r.expires = append(r.expires, expiresAt)
	return r.err
}

func (r *connRepoStub) Disconnect(ctx context.Context, id int64) error { return nil }

func (r *connRepoStub) Save(ctx context.Context, conn *domain.MailConnection) (*domain.MailConnection, error) {
	return conn, nil
}

func (r *connRepoStub) AddPushToken(ctx context.Context, userID, token string) error { return nil }

func (r *connRepoStub) ListPushTokens(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

type staticSource struct {
	tokens []*oauth2.Token
	calls  int
}

func (s *staticSource) Token() (*oauth2.Token, error) {
	tok := s.tokens[s.calls]
	if s.calls < len(s.tokens)-1 {
		s.calls++
	}
	return tok, nil
}

func TestJobSearchQuery(t *testing.T) {
	q := jobSearchQuery(60)
	assert.True(t, strings.HasPrefix(q, "(subject:(application OR interview OR offer OR rejection OR unfortunately OR update)"))
	assert.Contains(t, q, "from:(@indeed.com OR @glassdoor.com OR @lever.co OR @greenhouse.io))")
	assert.Contains(t, q, `-subject:"linkedin job alerts"`)
	assert.Contains(t, q, "-category:promotions")
	assert.True(t, strings.HasSuffix(q, "newer_than:60d"))

	assert.True(t, strings.HasSuffix(jobSearchQuery(0), "newer_than:60d"))
	assert.True(t, strings.HasSuffix(jobSearchQuery(14), "newer_than:14d"))
}

func TestDecodeBodyData(t *testing.T) {
	text := "Thanks for applying? We'll be in touch >>"
	for name, enc := range map[string]*base64.Encoding{
		"padded":   base64.URLEncoding,
		"unpadded": base64.RawURLEncoding,
	} {
		t.Run(name, func(t *testing.T) {
			got, err := decodeBodyData(enc.EncodeToString([]byte(text)))
			require.NoError(t, err)
			assert.Equal(t, text, got)
		})
	}

	got, err := decodeBodyData("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = decodeBodyData("***")
	assert.Error(t, err)
}

func TestExtractBody(t *testing.T) {
	enc := func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

	t.Run("multipart prefers text", func(t *testing.T) {
		part := &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: enc("plain body")}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: enc("<p>html body</p>")}},
			},
		}
		var body messageBody
		extractBody(part, &body)
		assert.Equal(t, "plain body", body.Text)
		assert.Equal(t, "<p>html body</p>", body.HTML)
		assert.Equal(t, "plain body", body.preferred())
	})

	t.Run("html only", func(t *testing.T) {
		part := &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Parts: []*gmail.MessagePart{{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: enc("<b>Hi</b>")}},
				},
			}},
		}
		var body messageBody
		extractBody(part, &body)
		assert.Equal(t, "<b>Hi</b>", body.preferred())
	})

	t.Run("nil payload", func(t *testing.T) {
		var body messageBody
		extractBody(nil, &body)
		assert.Empty(t, body.preferred())
	})
}

func TestGetHeader(t *testing.T) {
	headers := []*gmail.MessagePartHeader{
		{Name: "From", Value: "HR <hr@acme.com>"},
		{Name: "subject", Value: "Your application"},
	}
	assert.Equal(t, "HR <hr@acme.com>", getHeader(headers, "From"))
	assert.Equal(t, "Your application", getHeader(headers, "Subject"))
	assert.Empty(t, getHeader(headers, "Date"))
	assert.Nil(t, messageHeaders(&gmail.Message{}))
}

func TestBuildReplyMessage(t *testing.T) {
	raw := buildReplyMessage("hr@acme.com", "Re: Application Update", "Thank you.")
	assert.Equal(t,
		"To: hr@acme.com\r\nSubject: Re: Application Update\r\nMIME-Version: 1.0\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n\r\nThank you.",
		raw)

	decoded, err := base64.URLEncoding.DecodeString(encodeRawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, string(decoded))
}

func TestErrorClassification(t *testing.T) {
	grant := &oauth2.RetrieveError{ErrorCode: "invalid_grant"}
	wrapped := &url.Error{Op: "Post", URL: "https://oauth2.googleapis.com/token", Err: grant}

	assert.True(t, isInvalidGrant(grant))
	assert.True(t, isInvalidGrant(fmt.Errorf("list: %w", wrapped)))
	assert.True(t, isInvalidGrant(&oauth2.RetrieveError{Body: []byte(`{"error":"invalid_grant"}`)}))
	assert.False(t, isInvalidGrant(&oauth2.RetrieveError{ErrorCode: "invalid_client"}))
	assert.False(t, isInvalidGrant(errors.New("invalid_grant")))

	assert.False(t, tripsBreaker(grant))
	assert.False(t, tripsBreaker(&googleapi.Error{Code: 404}))
	assert.False(t, tripsBreaker(&googleapi.Error{Code: 401}))
	assert.True(t, tripsBreaker(&googleapi.Error{Code: 503}))
	assert.True(t, tripsBreaker(&googleapi.Error{Code: 429}))
	assert.True(t, tripsBreaker(errors.New("connection reset")))
}

func TestExecute_BreakerCountsOnlyOutages(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantOpen bool
		wantCode string
	}{
		{"not found", &googleapi.Error{Code: 404}, false, "NOT_FOUND"},
		{"unauthorized", &googleapi.Error{Code: 401}, false, "EXTERNAL_ERROR"},
		{"bad request", &googleapi.Error{Code: 400}, false, "EXTERNAL_ERROR"},
		{"revoked grant", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, false, "GMAIL_REAUTH_REQUIRED"},
		{"server error", &googleapi.Error{Code: 500}, true, "EXTERNAL_ERROR"},
		{"rate limited", &googleapi.Error{Code: 429}, true, "EXTERNAL_ERROR"},
		{"network", errors.New("connection reset"), true, "EXTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &domain.MailConnection{ID: 1, UserID: "u1"}
			m := NewGmailMailbox(GmailConfig{}, &connRepoStub{conn: conn}, zerolog.Nop())

			for i := 0; i < 6; i++ {
				err := m.execute(context.Background(), conn, "get", func() error { return tt.err })
				require.Error(t, err)
				if i == 0 {
					assert.Equal(t, tt.wantCode, apperr.AsAppError(err).Code)
				}
			}
			assert.Equal(t, tt.wantOpen, m.IsCircuitOpen())

			calls := 0
			_ = m.execute(context.Background(), conn, "get", func() error {
				calls++
				return nil
			})
			if tt.wantOpen {
				assert.Zero(t, calls)
			} else {
				assert.Equal(t, 1, calls)
			}
		})
	}
}

func TestPersistingTokenSource(t *testing.T) {
	conn := &domain.MailConnection{ID: 7, UserID: "u1", AccessToken: "old", RefreshToken: "refresh-1"}
	expiry := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("unchanged token is not written", func(t *testing.T) {
		repo := &connRepoStub{}
		ts := newPersistingTokenSource(context.Background(),
			&staticSource{tokens: []*oauth2.Token{{AccessToken: "old"}}}, repo, conn, zerolog.Nop())

		_, err := ts.Token()
		require.NoError(t, err)
		assert.Empty(t, repo.updates)
	})

	t.Run("refreshed token is written once", func(t *testing.T) {
		repo := &connRepoStub{}
		ts := newPersistingTokenSource(context.Background(),
			&staticSource{tokens: []*oauth2.Token{{AccessToken: "new", Expiry: expiry}}}, repo, conn, zerolog.Nop())

		for i := 0; i < 3; i++ {
			tok, err := ts.Token()
			require.NoError(t, err)
			assert.Equal(t, "new", tok.AccessToken)
		}
		assert.Equal(t, []string{"new|refresh-1"}, repo.updates)
		require.NotNil(t, repo.expires[0])
		assert.Equal(t, expiry, *repo.expires[0])
	})

	t.Run("rotated refresh token is kept", func(t *testing.T) {
		repo := &connRepoStub{}
		ts := newPersistingTokenSource(context.Background(),
			&staticSource{tokens: []*oauth2.Token{{AccessToken: "new", RefreshToken: "refresh-2"}}}, repo, conn, zerolog.Nop())

		_, err := ts.Token()
		require.NoError(t, err)
		assert.Equal(t, []string{"new|refresh-2"}, repo.updates)
		assert.Nil(t, repo.expires[0])
	})

	t.Run("store failure does not fail the call", func(t *testing.T) {
		repo := &connRepoStub{err: errors.New("db down")}
		ts := newPersistingTokenSource(context.Background(),
			&staticSource{tokens: []*oauth2.Token{{AccessToken: "new"}}}, repo, conn, zerolog.Nop())

		tok, err := ts.Token()
		require.NoError(t, err)
		assert.Equal(t, "new", tok.AccessToken)
	})
}
