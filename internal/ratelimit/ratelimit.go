// ratelimit — квоты запросов по фиксированному окну.
//
// Окно выравнивается по часам: window_start = now - now mod window.
// Счётчик окна хранится под ключом "{key}:{window_start}" в CounterStore
// и увеличивается атомарно; запрос сверх лимита тоже увеличивает счётчик.
//
// Основное хранилище — общий Redis (ratelimit/redis). При его недоступности
// FailoverStore переключается на таблицу в памяти процесса (ratelimit/memory)
// с той же арифметикой окон. В этом режиме квота считается отдельно на каждом
// инстансе сервиса, а не глобально: N инстансов пропустят до N*limit запросов.
//
// Ошибки хранилища никогда не отклоняют запрос. Запрос, который позже
// завершился ошибкой, квоту всё равно расходует.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pribylovaa/command-my-startup/internal/pkg/log"
)

const (
	// expireGrace — запас жизни записи окна сверх его конца на случай расхождения часов.
	expireGrace = 10 * time.Second

	minRetryAfter = time.Second
	maxRetryAfter = time.Hour
)

// CounterStore — атомарный счётчик окна.
type CounterStore interface {
	// Incr увеличивает счётчик key на 1 и возвращает новое значение.
	// При первом инкременте запись получает срок жизни до expireAt.
	Incr(ctx context.Context, key string, expireAt time.Time) (int64, error)
}

// Decision — результат проверки квоты.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Count — значение счётчика после инкремента.
	Count int64
	// Reset — конец текущего окна.
	Reset time.Time
	// RetryAfter — через сколько повторить; всегда в [1s, 1h].
	RetryAfter time.Duration
}

// RateLimitedError — запрос отклонён лимитером.
type RateLimitedError struct {
	Decision Decision
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: limit %d, retry after %s", e.Decision.Limit, e.Decision.RetryAfter)
}

// Headers возвращает заголовки X-RateLimit-* для ответа.
func (d Decision) Headers() map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(d.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(d.Reset.Unix(), 10),
	}

	if !d.Allowed {
		h["Retry-After"] = strconv.Itoa(int(d.RetryAfter / time.Second))
	}

	return h
}

// Limiter принимает решение по квоте поверх CounterStore.
type Limiter struct {
	store CounterStore
	now   func() time.Time
}

// Option настраивает Limiter.
type Option func(*Limiter)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter создаёт лимитер над store.
func NewLimiter(store CounterStore, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow увеличивает счётчик окна для key и решает, пропускать ли запрос.
// Окно меньше секунды округляется до секунды.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	const op = "ratelimit.Limiter.Allow"

	windowSec := int64(window / time.Second)
	if windowSec < 1 {
		windowSec = 1
	}

	now := l.now()
	nowSec := now.Unix()
	start := nowSec - nowSec%windowSec
	reset := time.Unix(start+windowSec, 0)

	storageKey := key + ":" + strconv.FormatInt(start, 10)
	count, err := l.store.Incr(ctx, storageKey, reset.Add(expireGrace))
	if err != nil {
		log.From(ctx).Error("ratelimit_store_failed",
			"op", op,
			"key", key,
			"err", err,
		)

		return Decision{
			Allowed:    true,
			Limit:      limit,
			Remaining:  limit,
			Reset:      reset,
			RetryAfter: clampRetry(reset.Sub(now)),
		}
	}

	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:    count <= int64(limit),
		Limit:      limit,
		Remaining:  int(remaining),
		Count:      count,
		Reset:      reset,
		RetryAfter: clampRetry(reset.Sub(now)),
	}
}

// clampRetry округляет вверх до секунды и ограничивает [1s, 1h].
func clampRetry(d time.Duration) time.Duration {
	d = (d + time.Second - 1).Truncate(time.Second)
	if d < minRetryAfter {
		return minRetryAfter
	}

	if d > maxRetryAfter {
		return maxRetryAfter
	}

	return d
}
