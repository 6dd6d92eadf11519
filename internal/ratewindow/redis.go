package ratewindow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lompapi/internal/gate"
	"lompapi/internal/model"

	"github.com/redis/go-redis/v9"
)

// admitScript runs the whole window update inside Redis, which executes scripts one at a time.
// It returns 1 when the request is admitted and 0 otherwise.
var admitScript = redis.NewScript(`
local start = ARGV[1]
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local current = redis.call('HGET', KEYS[1], 'window_start')
if current == start then
	local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
	if count >= limit then
		return 0
	end
	redis.call('HINCRBY', KEYS[1], 'count', 1)
	return 1
end
redis.call('HSET', KEYS[1], 'window_start', start, 'count', 1)
redis.call('EXPIRE', KEYS[1], ttl)
return 1
`)

// RedisStore keeps one hash per key so that several API replicas share the same counters.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix, "lompapi:window" by default.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets how long an idle window hash is kept. It must exceed the window size.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "lompapi:window",
		ttl:    2 * gate.WindowSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl <= gate.WindowSize {
		s.ttl = 2 * gate.WindowSize
	}
	return s
}

func (s *RedisStore) key(keyID string) string {
	return s.prefix + ":" + keyID
}

// Admit implements gate.WindowStore.
func (s *RedisStore) Admit(ctx context.Context, keyID string, windowStart int64, limit int) (bool, error) {
	res, err := admitScript.Run(ctx, s.rdb, []string{s.key(keyID)},
		windowStart, limit, int64(s.ttl/time.Second)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to update rate window for key %s: %w", keyID, err)
	}
	return res == 1, nil
}

func (s *RedisStore) Window(ctx context.Context, keyID string) (*model.RateWindow, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key(keyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load rate window for key %s: %w", keyID, err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	start, err := strconv.ParseInt(vals["window_start"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt window_start for key %s: %w", keyID, err)
	}
	count, err := strconv.Atoi(vals["count"])
	if err != nil {
		return nil, fmt.Errorf("corrupt count for key %s: %w", keyID, err)
	}
	return &model.RateWindow{KeyID: keyID, WindowStart: start, RequestCount: count}, nil
}

// Purge is a no-op: window hashes expire on their own.
func (s *RedisStore) Purge(context.Context, int64) (int64, error) {
	return 0, nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return nil
}
