package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterScript increments a key and starts its expiry window on first use.
// Running both steps in one script keeps the counter atomic under concurrent
// gateways; a plain INCR+EXPIRE pair can leak a counter without TTL when the
// client dies between the calls.
var counterScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisCounterStore implements expiring counters on Redis for rate limiting.
type RedisCounterStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCounterStore creates the store. All keys are namespaced under the
// prefix so limiter state is distinguishable from other cache users.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client, prefix: "ratelimit:"}
}

func (s *RedisCounterStore) IncrWithTTL(ctx context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		window = time.Minute
	}
	res, err := counterScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, fmt.Errorf("increment counter %q: %w", key, err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("increment counter %q: unexpected reply %T", key, res)
	}
	return count, nil
}
