package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/command-my-startup/internal/models"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// Period — окно агрегации статистики.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// since возвращает начало периода, отсчитанного назад от now.
func (p Period) since(now time.Time) (time.Time, bool) {
	switch p {
	case PeriodDay:
		return now.AddDate(0, 0, -1), true
	case PeriodWeek:
		return now.AddDate(0, 0, -7), true
	case PeriodMonth:
		return now.AddDate(0, -1, 0), true
	case PeriodYear:
		return now.AddDate(-1, 0, 0), true
	default:
		return time.Time{}, false
	}
}

// ListHistory возвращает историю пользователя, новые первыми.
// Limit == 0 означает DefaultHistoryLimit.
func (s *Service) ListHistory(ctx context.Context, userID uuid.UUID, f models.HistoryFilter) ([]models.HistoryEntry, error) {
	const op = "service.history.ListHistory"

	if f.Limit == 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit < 1 || f.Limit > MaxHistoryLimit {
		return nil, fmt.Errorf("%s: %w: limit must be within [1, %d]", op, ErrInvalidArgument, MaxHistoryLimit)
	}
	if f.Offset < 0 {
		return nil, fmt.Errorf("%s: %w: offset must be non-negative", op, ErrInvalidArgument)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, fmt.Errorf("%s: %w: end_date before start_date", op, ErrInvalidArgument)
	}

	entries, err := s.history.ListHistory(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return entries, nil
}

// HistoryStats считает статистику за период (по умолчанию — месяц).
func (s *Service) HistoryStats(ctx context.Context, userID uuid.UUID, period Period) (*models.HistoryStats, error) {
	const op = "service.history.HistoryStats"

	if period == "" {
		period = PeriodMonth
	}

	since, ok := period.since(s.now().UTC())
	if !ok {
		return nil, fmt.Errorf("%s: %w: unknown period %q", op, ErrInvalidArgument, period)
	}

	stats, err := s.history.HistoryStats(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	stats.Period = string(period)

	return stats, nil
}

// HistoryEntry возвращает запись истории пользователя.
func (s *Service) HistoryEntry(ctx context.Context, userID, id uuid.UUID) (*models.HistoryEntry, error) {
	const op = "service.history.HistoryEntry"

	e, err := s.history.HistoryByID(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapStorageErr(err))
	}

	return e, nil
}

// DeleteHistory удаляет запись истории пользователя.
func (s *Service) DeleteHistory(ctx context.Context, userID, id uuid.UUID) error {
	const op = "service.history.DeleteHistory"

	if err := s.history.DeleteHistory(ctx, userID, id); err != nil {
		return fmt.Errorf("%s: %w", op, mapStorageErr(err))
	}

	return nil
}
