package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pribylovaa/command-my-startup/internal/pkg/log"
)

// FailoverStore пишет в primary, а при его ошибке — в fallback.
// Переходы между режимами логируются один раз на переход.
type FailoverStore struct {
	primary  CounterStore
	fallback CounterStore
	degraded atomic.Bool
	onUse    func()
}

// FailoverOption настраивает FailoverStore.
type FailoverOption func(*FailoverStore)

// WithFallbackHook вызывается на каждый инкремент, ушедший в fallback.
func WithFallbackHook(fn func()) FailoverOption {
	return func(s *FailoverStore) { s.onUse = fn }
}

// NewFailoverStore объединяет общий и локальный счётчики.
func NewFailoverStore(primary, fallback CounterStore, opts ...FailoverOption) *FailoverStore {
	s := &FailoverStore{primary: primary, fallback: fallback}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Degraded сообщает, работает ли хранилище сейчас на fallback.
func (s *FailoverStore) Degraded() bool { return s.degraded.Load() }

func (s *FailoverStore) Incr(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	n, err := s.primary.Incr(ctx, key, expireAt)
	if err == nil {
		if s.degraded.CompareAndSwap(true, false) {
			log.From(ctx).Info("ratelimit_primary_recovered")
		}

		return n, nil
	}

	if s.degraded.CompareAndSwap(false, true) {
		log.From(ctx).Warn("ratelimit_fallback_engaged",
			"err", err,
			"consistency", "per_instance",
		)
	}

	if s.onUse != nil {
		s.onUse()
	}

	return s.fallback.Incr(ctx, key, expireAt)
}
