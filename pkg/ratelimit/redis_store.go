package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript refills and takes atomically. Times are in milliseconds. The
// token count is returned as a string to keep its fraction.
var takeScript = redis.NewScript(`
local burst = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local n = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
	tokens = burst
	ts = now
end
if now > ts then
	tokens = math.min(burst, tokens + (now - ts) / per_ms)
end

local allowed = 0
if tokens >= n then
	tokens = tokens - n
	allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now)
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

// RedisStore shares buckets between instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + ":" + k }

func (s *RedisStore) Take(ctx context.Context, key string, n int, cfg Config, now time.Time) (float64, bool, error) {
	per := cfg.perToken()
	ttl := max(scale(per, float64(cfg.Burst)), time.Second)
	res, err := takeScript.Run(ctx, s.client, []string{s.key(key)},
		cfg.Burst,
		float64(per)/float64(time.Millisecond),
		now.UnixMilli(),
		n,
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("ratelimit: take %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, false, errors.New("ratelimit: unexpected script reply")
	}
	allowed, _ := res[0].(int64)
	raw, _ := res[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("ratelimit: parse tokens %q: %w", raw, err)
	}
	return tokens, allowed == 1, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
