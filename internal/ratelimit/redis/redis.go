// redis — общий счётчик окон и статистика лимитера в Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// incrScript увеличивает счётчик и ставит EXPIREAT только на первом инкременте.
// Скрипт выполняется атомарно, поэтому окно не остаётся без срока жизни.
var incrScript = goredis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
	redis.call('EXPIREAT', KEYS[1], ARGV[1])
end
return c
`)

// Store — реализация ratelimit.CounterStore поверх Redis.
type Store struct {
	rdb     goredis.Scripter
	prefix  string
	timeout time.Duration
}

// Option настраивает Store.
type Option func(*Store)

// WithPrefix задаёт префикс ключей (по умолчанию "cms:").
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTimeout ограничивает одно обращение к Redis.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// New создаёт Store.
func New(rdb goredis.Scripter, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: "cms:", timeout: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) Incr(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	const op = "ratelimit.redis.Incr"

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	n, err := incrScript.Run(ctx, s.rdb, []string{s.prefix + "rl:" + key}, expireAt.Unix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}
