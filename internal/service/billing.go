package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/pribylovaa/command-my-startup/internal/billing"
	"github.com/pribylovaa/command-my-startup/internal/pkg/log"
	"github.com/pribylovaa/command-my-startup/internal/storage"
)

// HandleStripeWebhook применяет событие подписки к пользователю.
// Неизвестные события и клиенты без пользователя игнорируются:
// Stripe не должен повторять доставку того, что мы не обрабатываем.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	const op = "service.billing.HandleStripeWebhook"

	if s.billing == nil {
		return fmt.Errorf("%s: %w", op, ErrFeatureDisabled)
	}

	upd, err := s.billing.ParseSubscriptionEvent(payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrDisabled):
			return fmt.Errorf("%s: %w", op, ErrFeatureDisabled)
		case errors.Is(err, billing.ErrBadSignature), errors.Is(err, billing.ErrBadPayload):
			return fmt.Errorf("%s: %w: %w", op, ErrInvalidArgument, err)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	logger := log.From(ctx)
	if upd == nil {
		logger.Debug("stripe_event_ignored")
		return nil
	}

	err = s.users.SetSubscriptionStatus(ctx, upd.CustomerID, upd.Status)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warn("stripe_customer_unknown", "customer_id", upd.CustomerID, "event", upd.EventType)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	logger.Info("subscription_status_updated",
		"customer_id", upd.CustomerID,
		"status", upd.Status,
		"event_id", upd.EventID,
	)

	return nil
}
