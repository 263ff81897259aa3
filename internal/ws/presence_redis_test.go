package ws

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real Redis when TEST_REDIS_ADDR is set
func TestRedisPresence_ReferenceCounted(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	p := NewRedisPresence(client)
	p.key = "chat:presence:test"
	require.NoError(t, p.Reset(ctx))
	defer p.Reset(ctx) //nolint:errcheck

	changed, err := p.MarkOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, _ = p.MarkOnline(ctx, "alice")
	assert.False(t, changed)

	changed, _ = p.MarkOffline(ctx, "alice")
	assert.False(t, changed)
	changed, _ = p.MarkOffline(ctx, "alice")
	assert.True(t, changed)

	online, err := p.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)

	changed, _ = p.MarkOffline(ctx, "ghost")
	assert.False(t, changed)
	ids, err := p.Online(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
