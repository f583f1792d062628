package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"tracker_server/core/domain"
	"tracker_server/core/port/out"
)

// persistingTokenSource writes a refreshed token back to the connection
// store the first time a new access token is observed.
type persistingTokenSource struct {
	ctx   context.Context
	base  oauth2.TokenSource
	conns out.ConnectionRepository
	conn  *domain.MailConnection
	log   zerolog.Logger

	mu         sync.Mutex
	lastAccess string
}

func newPersistingTokenSource(
	ctx context.Context,
	base oauth2.TokenSource,
	conns out.ConnectionRepository,
	conn *domain.MailConnection,
	log zerolog.Logger,
) *persistingTokenSource {
	return &persistingTokenSource{
		ctx:        ctx,
		base:       base,
		conns:      conns,
		conn:       conn,
		log:        log,
		lastAccess: conn.AccessToken,
	}
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.AccessToken == s.lastAccess {
		return tok, nil
	}
	s.lastAccess = tok.AccessToken

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = s.conn.RefreshToken
	}
	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		expiresAt = &exp
	}

	if err := s.conns.UpdateTokens(s.ctx, s.conn.ID, tok.AccessToken, refresh, expiresAt); err != nil {
		// the call can still proceed with the new token
		s.log.Warn().Err(err).Int64("connection_id", s.conn.ID).Msg("failed to persist refreshed token")
	} else {
		s.log.Debug().Int64("connection_id", s.conn.ID).Msg("persisted refreshed token")
	}
	return tok, nil
}
