package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pribylovaa/command-my-startup/internal/ratelimit"
)

// StatsStore пишет allowed/denied счётчики: общий итог, по классам
// и поминутные корзины с TTL.
type StatsStore struct {
	client *goredis.Client
	prefix string
	// ttl действует только на поминутные корзины; итоги не истекают.
	ttl     time.Duration
	timeout time.Duration
}

// StatsOption настраивает StatsStore.
type StatsOption func(*StatsStore)

func WithStatsPrefix(prefix string) StatsOption {
	return func(s *StatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) StatsOption {
	return func(s *StatsStore) { s.ttl = d }
}

// WithStatsTimeout ограничивает одну запись; Record вызывается на пути запроса.
func WithStatsTimeout(d time.Duration) StatsOption {
	return func(s *StatsStore) { s.timeout = d }
}

// NewStatsStore создаёт StatsStore.
func NewStatsStore(rdb *goredis.Client, opts ...StatsOption) *StatsStore {
	s := &StatsStore{
		client:  rdb,
		prefix:  "cms:ratelimit:stats",
		ttl:     24 * time.Hour,
		timeout: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *StatsStore) Record(ctx context.Context, ev ratelimit.StatsEvent) error {
	const op = "ratelimit.redis.Record"

	if s == nil || s.client == nil {
		return nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)
	pipe.HIncrBy(ctx, s.prefix+":class", string(ev.Class)+":"+field, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

var _ ratelimit.StatsRecorder = (*StatsStore)(nil)
