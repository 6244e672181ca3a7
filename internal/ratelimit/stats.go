package ratelimit

import (
	"context"
	"time"
)

// StatsEvent — одно решение лимитера.
// Ключ вызывающего сюда не попадает, чтобы не раздувать число серий.
type StatsEvent struct {
	Class   Class
	Allowed bool
	At      time.Time
}

// StatsRecorder сохраняет агрегаты решений. Ошибки записи — best-effort.
type StatsRecorder interface {
	Record(ctx context.Context, ev StatsEvent) error
}
