// cache содержит Redis-клиент сервиса и список отозванных refresh-токенов.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations — список отозванных refresh-токенов по jti.
// Запись живёт до истечения самого токена: позже он отклоняется по exp.
type Revocations interface {
	// Revoke помечает jti отозванным до момента until.
	Revoke(ctx context.Context, jti string, until time.Time) error
	// Consume атомарно отзывает jti. false означает, что jti уже был отозван
	// (параллельная ротация того же токена).
	Consume(ctx context.Context, jti string, until time.Time) (bool, error)
	// IsRevoked сообщает, отозван ли jti.
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Connect создаёт клиент Redis из URL (например, redis://:pass@host:6379/0)
// и проверяет доступность сервера.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	const op = "cache.Connect"

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Дедлайны контекста действуют и на чтение ответа, а не только на dial.
	opt.ContextTimeoutEnabled = true
	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rdb, nil
}

type redisRevocations struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisRevocations возвращает denylist в Redis.
// Если prefix пустой — используется "cms:".
func NewRedisRevocations(rdb *redis.Client, prefix string) Revocations {
	if prefix == "" {
		prefix = "cms:"
	}

	return &redisRevocations{rdb: rdb, prefix: prefix + "rt:revoked:", now: time.Now}
}

func (c *redisRevocations) key(jti string) string { return c.prefix + jti }

func (c *redisRevocations) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(c.now())
	if ttl <= 0 {
		return nil
	}

	return c.rdb.Set(ctx, c.key(jti), "1", ttl).Err()
}

// Consume — SET NX: из двух параллельных вызовов успешен только первый.
func (c *redisRevocations) Consume(ctx context.Context, jti string, until time.Time) (bool, error) {
	ttl := until.Sub(c.now())
	if ttl <= 0 {
		return false, nil
	}

	return c.rdb.SetNX(ctx, c.key(jti), "1", ttl).Result()
}

func (c *redisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := c.rdb.Get(ctx, c.key(jti)).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, err
	}
}

// MemoryRevocations — denylist в памяти процесса для запуска без Redis.
type MemoryRevocations struct {
	mu    sync.Mutex
	items map[string]time.Time
	now   func() time.Time
}

// NewMemoryRevocations создаёт пустой denylist в памяти.
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{items: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryRevocations) Revoke(_ context.Context, jti string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !until.After(m.now()) {
		return nil
	}

	m.items[jti] = until
	return nil
}

func (m *MemoryRevocations) Consume(_ context.Context, jti string, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !until.After(now) {
		return false, nil
	}

	if prev, ok := m.items[jti]; ok && prev.After(now) {
		return false, nil
	}

	m.items[jti] = until
	return true, nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.items[jti]
	if !ok {
		return false, nil
	}

	if !until.After(m.now()) {
		delete(m.items, jti)
		return false, nil
	}

	return true, nil
}

// Sweep удаляет истёкшие записи; вызывается janitor-горутиной.
func (m *MemoryRevocations) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for jti, until := range m.items {
		if !until.After(now) {
			delete(m.items, jti)
			removed++
		}
	}

	return removed
}
