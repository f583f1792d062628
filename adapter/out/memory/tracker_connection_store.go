package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"tracker_server/core/domain"
	"tracker_server/core/port/out"
)

// ConnectionStore is an in-process out.ConnectionRepository.
type ConnectionStore struct {
	mu     sync.Mutex
	nextID int64
	byUser map[string]*domain.MailConnection
	now    func() time.Time
}

func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{
		byUser: make(map[string]*domain.MailConnection),
		now:    time.Now,
	}
}

func (s *ConnectionStore) GetByUser(ctx context.Context, userID string) (*domain.MailConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.byUser[userID]
	if !ok {
		return nil, out.ErrConnectionNotFound
	}
	return cloneConnection(conn), nil
}

func (s *ConnectionStore) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := s.findByID(id)
	if conn == nil {
		return out.ErrConnectionNotFound
	}
	conn.AccessToken = accessToken
	if refreshToken != "" {
		conn.RefreshToken = refreshToken
	}
	conn.ExpiresAt = copyTime(expiresAt)
	conn.UpdatedAt = s.now()
	return nil
}

func (s *ConnectionStore) Disconnect(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := s.findByID(id)
	if conn == nil {
		return out.ErrConnectionNotFound
	}
	conn.IsConnected = false
	conn.AccessToken = ""
	conn.RefreshToken = ""
	conn.ExpiresAt = nil
	conn.UpdatedAt = s.now()
	return nil
}

func (s *ConnectionStore) ListPushTokens(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.byUser[userID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(conn.PushTokens), nil
}

func (s *ConnectionStore) Save(ctx context.Context, in *domain.MailConnection) (*domain.MailConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	conn := s.getOrCreate(in.UserID, now)
	conn.Email = in.Email
	conn.AccessToken = in.AccessToken
	if in.RefreshToken != "" {
		conn.RefreshToken = in.RefreshToken
	}
	conn.ExpiresAt = copyTime(in.ExpiresAt)
	conn.IsConnected = true
	conn.UpdatedAt = now
	return cloneConnection(conn), nil
}

func (s *ConnectionStore) AddPushToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := s.getOrCreate(userID, s.now())
	if !slices.Contains(conn.PushTokens, token) {
		conn.PushTokens = append(conn.PushTokens, token)
	}
	return nil
}

func (s *ConnectionStore) getOrCreate(userID string, now time.Time) *domain.MailConnection {
	conn, ok := s.byUser[userID]
	if !ok {
		s.nextID++
		conn = &domain.MailConnection{ID: s.nextID, UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.byUser[userID] = conn
	}
	return conn
}

func (s *ConnectionStore) findByID(id int64) *domain.MailConnection {
	for _, conn := range s.byUser {
		if conn.ID == id {
			return conn
		}
	}
	return nil
}

func cloneConnection(c *domain.MailConnection) *domain.MailConnection {
	cp := *c
	cp.ExpiresAt = copyTime(c.ExpiresAt)
	cp.PushTokens = slices.Clone(c.PushTokens)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ out.ConnectionRepository = (*ConnectionStore)(nil)
