package auth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker_server/adapter/out/memory"
	"tracker_server/core/port/out"
	"tracker_server/pkg/apperr"
)

type fakeAuthorizer struct {
	grant *out.MailGrant
	codes []string
}

func (f *fakeAuthorizer) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (f *fakeAuthorizer) Exchange(ctx context.Context, code string) (*out.MailGrant, error) {
	f.codes = append(f.codes, code)
	return f.grant, nil
}

func newService(t *testing.T) (*MailAccountService, *fakeAuthorizer, *memory.ConnectionStore) {
	t.Helper()
	authz := &fakeAuthorizer{grant: &out.MailGrant{Email: "me@gmail.com", AccessToken: "at", RefreshToken: "rt"}}
	conns := memory.NewConnectionStore()
	return NewMailAccountService(authz, conns, "secret"), authz, conns
}

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestConnectRoundTrip(t *testing.T) {
	svc, authz, conns := newService(t)
	ctx := context.Background()

	authURL, err := svc.ConnectURL("user-1")
	require.NoError(t, err)

	conn, err := svc.CompleteConnect(ctx, "code-1", stateFrom(t, authURL))
	require.NoError(t, err)
	assert.Equal(t, "user-1", conn.UserID)
	assert.Equal(t, "me@gmail.com", conn.Email)
	assert.Equal(t, []string{"code-1"}, authz.codes)

	stored, err := conns.GetByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, stored.IsConnected)
	assert.Equal(t, "rt", stored.RefreshToken)
}

func TestCompleteConnect_RejectsBadState(t *testing.T) {
	svc, authz, _ := newService(t)
	ctx := context.Background()

	authURL, err := svc.ConnectURL("user-1")
	require.NoError(t, err)
	state := stateFrom(t, authURL)

	t.Run("missing params", func(t *testing.T) {
		_, err := svc.CompleteConnect(ctx, "", state)
		assert.Equal(t, apperr.CodeBadRequest, apperr.AsAppError(err).Code)
	})

	t.Run("forged", func(t *testing.T) {
		other := NewMailAccountService(authz, memory.NewConnectionStore(), "other-secret")
		forgedURL, err := other.ConnectURL("attacker")
		require.NoError(t, err)
		_, err = svc.CompleteConnect(ctx, "code", stateFrom(t, forgedURL))
		assert.Equal(t, apperr.CodeBadRequest, apperr.AsAppError(err).Code)
	})

	t.Run("expired", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().Add(stateTTL + time.Minute) }
		defer func() { svc.now = time.Now }()
		_, err := svc.CompleteConnect(ctx, "code", state)
		assert.Equal(t, apperr.CodeBadRequest, apperr.AsAppError(err).Code)
	})

	assert.Empty(t, authz.codes)
}

func TestRegisterPushToken(t *testing.T) {
	svc, _, conns := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterPushToken(ctx, "user-1", " ExponentPushToken[abc] "))
	require.NoError(t, svc.RegisterPushToken(ctx, "user-1", "ExponentPushToken[abc]"))

	tokens, err := conns.ListPushTokens(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ExponentPushToken[abc]"}, tokens)

	err = svc.RegisterPushToken(ctx, "user-1", "  ")
	assert.Equal(t, apperr.CodeInvalidInput, apperr.AsAppError(err).Code)
}
