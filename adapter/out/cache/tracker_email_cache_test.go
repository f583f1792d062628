package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker_server/core/domain"
	"tracker_server/pkg/cache"
)

func TestEmailBodyCache_ScopedPerUser(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewEmailBodyCache(cache.NewMemoryCache(func() time.Time { return now }), time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "u1", &domain.FullEmail{ID: "m1", Subject: "Interview", Body: "hello"}))

	got, ok := c.Get(ctx, "u1", "m1")
	require.True(t, ok)
	assert.Equal(t, "Interview", got.Subject)

	_, ok = c.Get(ctx, "u2", "m1")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(ctx, "u1", "m1")
	assert.False(t, ok)
}
