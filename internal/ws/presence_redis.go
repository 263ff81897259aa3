package ws

import (
	"context"
	"sort"

	"github.com/redis/go-redis/v9"
)

const presenceKey = "chat:presence"

// decrement and drop the field once the last connection is gone
var markOfflineScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return n
`)

// RedisPresence presence shared through a Redis hash of connection counts
type RedisPresence struct {
	client *redis.Client
	key    string
}

// NewRedisPresence creates a RedisPresence on the default key
func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client, key: presenceKey}
}

func (p *RedisPresence) MarkOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.HIncrBy(ctx, p.key, userID, 1).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *RedisPresence) MarkOffline(ctx context.Context, userID string) (bool, error) {
	n, err := markOfflineScript.Run(ctx, p.client, []string{p.key}, userID).Int64()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	return p.client.HExists(ctx, p.key, userID).Result()
}

func (p *RedisPresence) Online(ctx context.Context) ([]string, error) {
	ids, err := p.client.HKeys(ctx, p.key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Reset clears counts left behind by a previous process
func (p *RedisPresence) Reset(ctx context.Context) error {
	return p.client.Del(ctx, p.key).Err()
}
