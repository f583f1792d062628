// Package auth connects users' Gmail accounts and registers their devices.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tracker_server/core/domain"
	"tracker_server/core/port/in"
	"tracker_server/core/port/out"
	"tracker_server/pkg/apperr"
	"tracker_server/pkg/logger"
)

const (
	stateTTL      = 10 * time.Minute
	stateAudience = "gmail-connect"
	maxTokenLen   = 512
)

// MailAccountService signs the OAuth state as a short-lived JWT so the
// callback can recover the user without server-side state.
type MailAccountService struct {
	authorizer out.MailAuthorizer
	conns      out.ConnectionRepository
	secret     []byte
	now        func() time.Time
}

func NewMailAccountService(authorizer out.MailAuthorizer, conns out.ConnectionRepository, secret string) *MailAccountService {
	return &MailAccountService{
		authorizer: authorizer,
		conns:      conns,
		secret:     []byte(secret),
		now:        time.Now,
	}
}

func (s *MailAccountService) ConnectURL(userID string) (string, error) {
	state, err := s.signState(userID)
	if err != nil {
		return "", apperr.InternalWithError(err)
	}
	return s.authorizer.AuthCodeURL(state), nil
}

func (s *MailAccountService) CompleteConnect(ctx context.Context, code, state string) (*domain.MailConnection, error) {
	if code == "" || state == "" {
		return nil, apperr.BadRequest("missing OAuth parameters")
	}

	userID, err := s.parseState(state)
	if err != nil {
		logger.WithError(err).Warn("OAuth state rejected")
		return nil, apperr.BadRequest("invalid OAuth state")
	}

	grant, err := s.authorizer.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	conn, err := s.conns.Save(ctx, &domain.MailConnection{
		UserID:       userID,
		Email:        grant.Email,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiresAt,
	})
	if err != nil {
		return nil, apperr.DatabaseError("save mail connection", err)
	}

	logger.WithField("user_id", userID).Info("Gmail connected: %s", conn.Email)
	return conn, nil
}

func (s *MailAccountService) RegisterPushToken(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.InvalidInput("token", "push token is required")
	}
	if len(token) > maxTokenLen {
		return apperr.InvalidInput("token", "push token is too long")
	}
	if err := s.conns.AddPushToken(ctx, userID, token); err != nil {
		return apperr.DatabaseError("save push token", err)
	}
	return nil
}

func (s *MailAccountService) signState(userID string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("state signing secret not configured")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Audience:  jwt.ClaimStrings{stateAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *MailAccountService) parseState(state string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("state signing secret not configured")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("state has no subject")
	}
	return claims.Subject, nil
}

var _ in.MailAccountService = (*MailAccountService)(nil)
