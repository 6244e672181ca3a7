// billing — интеграция со Stripe: клиенты и события подписок.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/pribylovaa/command-my-startup/internal/config"
)

var (
	// ErrDisabled — биллинг не настроен (нет ключа или секрета вебхука).
	ErrDisabled = errors.New("billing disabled")
	// ErrBadSignature — подпись вебхука не сошлась. Маппинг: 400.
	ErrBadSignature = errors.New("invalid webhook signature")
	// ErrBadPayload — событие не разбирается. Маппинг: 400.
	ErrBadPayload = errors.New("invalid webhook payload")
)

// SubscriptionUpdate — изменение статуса подписки клиента Stripe.
type SubscriptionUpdate struct {
	EventID    string
	EventType  string
	CustomerID string
	Status     string
}

// Stripe — клиент Stripe API и верификатор вебхуков.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

// New создаёт клиента. backends == nil — стандартные адреса Stripe.
func New(cfg config.StripeConfig, backends *stripe.Backends) *Stripe {
	s := &Stripe{webhookSecret: cfg.WebhookSecret}
	if cfg.APIKey != "" {
		s.api = client.New(cfg.APIKey, backends)
	}

	return s
}

// NewTestBackends направляет API-вызовы на url (stripe-mock, httptest).
func NewTestBackends(url string, httpClient *http.Client) *stripe.Backends {
	api := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:        stripe.String(url),
		HTTPClient: httpClient,
	})

	return &stripe.Backends{API: api, Connect: api, Uploads: api}
}

// Enabled сообщает, можно ли создавать клиентов.
func (s *Stripe) Enabled() bool { return s != nil && s.api != nil }

// CreateCustomer создаёт клиента Stripe и возвращает его ID.
func (s *Stripe) CreateCustomer(ctx context.Context, email, name string, userID string) (string, error) {
	const op = "billing.Stripe.CreateCustomer"

	if !s.Enabled() {
		return "", fmt.Errorf("%s: %w", op, ErrDisabled)
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)

	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return c.ID, nil
}

// ParseSubscriptionEvent проверяет подпись и извлекает изменение подписки.
// Для событий, не относящихся к подпискам, возвращает (nil, nil).
func (s *Stripe) ParseSubscriptionEvent(payload []byte, signature string) (*SubscriptionUpdate, error) {
	const op = "billing.Stripe.ParseSubscriptionEvent"

	if s == nil || s.webhookSecret == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrDisabled)
	}

	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrBadSignature, err)
		}

		return nil, fmt.Errorf("%s: %w: %w", op, ErrBadPayload, err)
	}

	if !strings.HasPrefix(event.Type, "customer.subscription.") {
		return nil, nil
	}

	var sub stripe.Subscription
	if event.Data == nil {
		return nil, fmt.Errorf("%s: %w: empty data", op, ErrBadPayload)
	}
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrBadPayload, err)
	}

	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, fmt.Errorf("%s: %w: subscription without customer", op, ErrBadPayload)
	}

	status := string(sub.Status)
	if event.Type == "customer.subscription.deleted" {
		status = string(stripe.SubscriptionStatusCanceled)
	}

	return &SubscriptionUpdate{
		EventID:    event.ID,
		EventType:  event.Type,
		CustomerID: sub.Customer.ID,
		Status:     status,
	}, nil
}
