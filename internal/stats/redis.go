package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lompapi/internal/gate"

	"github.com/redis/go-redis/v9"
)

const reasonFieldPrefix = "reason:"

// RedisRecorder keeps counters in Redis hashes:
//
//	<prefix>:total              cumulative, never expires
//	<prefix>:minute:<yyyymmddhhmm>  per-minute buckets
//	<prefix>:key:<id>           per key
//	<prefix>:capability         per capability, fields "<capability>:allowed|denied"
type RedisRecorder struct {
	rdb    *redis.Client
	prefix string
	// ttl applies to minute buckets and per-key hashes.
	ttl time.Duration
}

type RedisOption func(*RedisRecorder)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisRecorder) { s.prefix = strings.Trim(prefix, ":") }
}

func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisRecorder) { s.ttl = d }
}

func NewRedisRecorder(rdb *redis.Client, opts ...RedisOption) *RedisRecorder {
	s := &RedisRecorder{
		rdb:    rdb,
		prefix: "lompapi:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func fields(ev gate.Event) []string {
	if ev.Allowed {
		return []string{"allowed"}
	}
	return []string{"denied", reasonFieldPrefix + ev.Reason.String()}
}

// Record implements gate.Recorder.
func (s *RedisRecorder) Record(ctx context.Context, ev gate.Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	totalKey := s.prefix + ":total"
	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))

	pipe := s.rdb.Pipeline()
	for _, f := range fields(ev) {
		pipe.HIncrBy(ctx, totalKey, f, 1)
		pipe.HIncrBy(ctx, bucketKey, f, 1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if ev.KeyID != "" {
		keyKey := s.prefix + ":key:" + ev.KeyID
		for _, f := range fields(ev) {
			pipe.HIncrBy(ctx, keyKey, f, 1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, keyKey, s.ttl)
		}
	}

	if ev.Capability != "" {
		pipe.HIncrBy(ctx, s.prefix+":capability", ev.Capability+":"+fields(ev)[0], 1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record gate decision: %w", err)
	}
	return nil
}

func (s *RedisRecorder) Totals(ctx context.Context) (Counters, error) {
	return s.read(ctx, s.prefix+":total")
}

func (s *RedisRecorder) ForKey(ctx context.Context, keyID string) (Counters, error) {
	return s.read(ctx, s.prefix+":key:"+keyID)
}

func (s *RedisRecorder) read(ctx context.Context, key string) (Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("failed to read stats %s: %w", key, err)
	}
	var c Counters
	for f, v := range vals {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("corrupt stats field %s in %s: %w", f, key, err)
		}
		switch {
		case f == "allowed":
			c.Allowed = n
		case f == "denied":
			c.Denied = n
		case strings.HasPrefix(f, reasonFieldPrefix):
			if c.Reasons == nil {
				c.Reasons = make(map[string]int64)
			}
			c.Reasons[strings.TrimPrefix(f, reasonFieldPrefix)] = n
		}
	}
	return c, nil
}
