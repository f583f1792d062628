// Package cache adapts pkg/cache stores to the email body cache port.
package cache

import (
	"context"
	"time"

	"tracker_server/core/domain"
	"tracker_server/core/port/out"
	"tracker_server/pkg/cache"
	"tracker_server/pkg/logger"
)

const emailKeyPrefix = "email:"

// EmailBodyCache keeps cleaned full emails for a short TTL, keyed per user
// so one user can never read another's cached message.
type EmailBodyCache struct {
	store cache.JSONCache
	ttl   time.Duration
}

func NewEmailBodyCache(store cache.JSONCache, ttl time.Duration) *EmailBodyCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &EmailBodyCache{store: store, ttl: ttl}
}

// Get reports a miss on any store error.
func (c *EmailBodyCache) Get(ctx context.Context, userID, messageID string) (*domain.FullEmail, bool) {
	var email domain.FullEmail
	ok, err := c.store.GetJSON(ctx, emailKey(userID, messageID), &email)
	if err != nil {
		logger.Warn("email cache read failed: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &email, true
}

func (c *EmailBodyCache) Set(ctx context.Context, userID string, email *domain.FullEmail) error {
	return c.store.SetJSON(ctx, emailKey(userID, email.ID), email, c.ttl)
}

func emailKey(userID, messageID string) string {
	return emailKeyPrefix + userID + ":" + messageID
}

var _ out.EmailBodyCache = (*EmailBodyCache)(nil)
