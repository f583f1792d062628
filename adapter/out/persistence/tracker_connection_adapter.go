// Package persistence provides PostgreSQL adapters.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"tracker_server/core/domain"
	"tracker_server/core/port/out"
	"tracker_server/pkg/crypto"
	"tracker_server/pkg/logger"
)

const connectionSchema = `
CREATE TABLE IF NOT EXISTS mail_connections (
	id            BIGSERIAL PRIMARY KEY,
	user_id       TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL DEFAULT '',
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at    TIMESTAMPTZ,
	is_connected  BOOLEAN NOT NULL DEFAULT FALSE,
	push_tokens   TEXT[] NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const connectionColumns = `id, user_id, email, access_token, refresh_token,
	expires_at, is_connected, push_tokens, created_at, updated_at`

// ConnectionAdapter implements out.ConnectionRepository using PostgreSQL.
// Tokens are sealed at rest when a cipher is configured.
type ConnectionAdapter struct {
	db     *sqlx.DB
	cipher *crypto.TokenCipher
}

func NewConnectionAdapter(db *sqlx.DB, cipher *crypto.TokenCipher) *ConnectionAdapter {
	if cipher == nil {
		logger.Warn("Token encryption disabled: no encryption key configured")
	}
	return &ConnectionAdapter{db: db, cipher: cipher}
}

func (a *ConnectionAdapter) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, connectionSchema)
	return err
}

type connectionRow struct {
	ID           int64          `db:"id"`
	UserID       string         `db:"user_id"`
	Email        string         `db:"email"`
	AccessToken  string         `db:"access_token"`
	RefreshToken string         `db:"refresh_token"`
	ExpiresAt    sql.NullTime   `db:"expires_at"`
	IsConnected  bool           `db:"is_connected"`
	PushTokens   pq.StringArray `db:"push_tokens"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (a *ConnectionAdapter) GetByUser(ctx context.Context, userID string) (*domain.MailConnection, error) {
	var row connectionRow
	query := `SELECT ` + connectionColumns + ` FROM mail_connections WHERE user_id = $1`

	if err := a.db.GetContext(ctx, &row, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, out.ErrConnectionNotFound
		}
		return nil, err
	}
	return a.toDomain(&row), nil
}

// UpdateTokens stores a refreshed token pair. An empty refresh token keeps
// the stored one.
func (a *ConnectionAdapter) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	access, err := a.seal(accessToken)
	if err != nil {
		return err
	}
	refresh, err := a.seal(refreshToken)
	if err != nil {
		return err
	}

	query := `
		UPDATE mail_connections
		SET access_token = $2,
		    refresh_token = CASE WHEN $3::text = '' THEN refresh_token ELSE $3::text END,
		    expires_at = $4,
		    updated_at = NOW()
		WHERE id = $1`

	res, err := a.db.ExecContext(ctx, query, id, access, refresh, nullTime(expiresAt))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Disconnect clears the stored tokens; push tokens survive.
func (a *ConnectionAdapter) Disconnect(ctx context.Context, id int64) error {
	query := `
		UPDATE mail_connections
		SET is_connected = FALSE,
		    access_token = '',
		    refresh_token = '',
		    expires_at = NULL,
		    updated_at = NOW()
		WHERE id = $1`

	res, err := a.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (a *ConnectionAdapter) ListPushTokens(ctx context.Context, userID string) ([]string, error) {
	var tokens pq.StringArray
	query := `SELECT push_tokens FROM mail_connections WHERE user_id = $1`

	if err := a.db.GetContext(ctx, &tokens, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return []string(tokens), nil
}

func (a *ConnectionAdapter) Save(ctx context.Context, conn *domain.MailConnection) (*domain.MailConnection, error) {
	access, err := a.seal(conn.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := a.seal(conn.RefreshToken)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO mail_connections (user_id, email, access_token, refresh_token, expires_at, is_connected)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			access_token = EXCLUDED.access_token,
			refresh_token = CASE WHEN EXCLUDED.refresh_token = ''
				THEN mail_connections.refresh_token ELSE EXCLUDED.refresh_token END,
			expires_at = EXCLUDED.expires_at,
			is_connected = TRUE,
			updated_at = NOW()
		RETURNING ` + connectionColumns

	var row connectionRow
	if err := a.db.GetContext(ctx, &row, query,
		conn.UserID, conn.Email, access, refresh, nullTime(conn.ExpiresAt)); err != nil {
		return nil, err
	}
	return a.toDomain(&row), nil
}

func (a *ConnectionAdapter) AddPushToken(ctx context.Context, userID, token string) error {
	query := `
		INSERT INTO mail_connections (user_id, push_tokens)
		VALUES ($1, ARRAY[$2::text])
		ON CONFLICT (user_id) DO UPDATE SET
			push_tokens = CASE WHEN $2::text = ANY(mail_connections.push_tokens)
				THEN mail_connections.push_tokens
				ELSE array_append(mail_connections.push_tokens, $2::text) END,
			updated_at = NOW()`

	_, err := a.db.ExecContext(ctx, query, userID, token)
	return err
}

func (a *ConnectionAdapter) toDomain(row *connectionRow) *domain.MailConnection {
	conn := &domain.MailConnection{
		ID:           row.ID,
		UserID:       row.UserID,
		Email:        row.Email,
		AccessToken:  a.open(row.AccessToken),
		RefreshToken: a.open(row.RefreshToken),
		IsConnected:  row.IsConnected,
		PushTokens:   []string(row.PushTokens),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.ExpiresAt.Valid {
		t := row.ExpiresAt.Time
		conn.ExpiresAt = &t
	}
	return conn
}

func (a *ConnectionAdapter) seal(token string) (string, error) {
	if a.cipher == nil || token == "" {
		return token, nil
	}
	sealed, err := a.cipher.Seal(token)
	if err != nil {
		return "", fmt.Errorf("seal token: %w", err)
	}
	return sealed, nil
}

func (a *ConnectionAdapter) open(stored string) string {
	if a.cipher == nil {
		return stored
	}
	return a.cipher.OpenOrPlain(stored)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return out.ErrConnectionNotFound
	}
	return nil
}

var _ out.ConnectionRepository = (*ConnectionAdapter)(nil)
