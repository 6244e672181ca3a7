// ai — клиенты AI-провайдеров и маршрутизация запросов по имени модели.
//
// Провайдер без API-ключа заменяется Mock: сервис остаётся рабочим
// в локальном окружении и в тестах.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/pribylovaa/command-my-startup/internal/config"
	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/pkg/log"
)

const (
	// DefaultTemperature подставляется, если клиент не передал температуру.
	DefaultTemperature = 0.7
	// DefaultMaxTokens — лимит ответа, если клиент его не задал.
	DefaultMaxTokens = 1024
	// MaxTokensLimit — верхняя граница max_tokens.
	MaxTokensLimit = 4096
)

var (
	// ErrUnsupportedModel — ни один провайдер не обслуживает модель. Маппинг: 400.
	ErrUnsupportedModel = errors.New("unsupported model")
	// ErrProvider — провайдер вернул ошибку или некорректный ответ. Маппинг: 502.
	ErrProvider = errors.New("ai provider error")
)

// Provider выполняет одну команду.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req models.CommandRequest) (*models.Completion, error)
}

// Router выбирает провайдера по префиксу модели.
type Router struct {
	routes []route
}

type route struct {
	prefixes []string
	provider Provider
}

// NewRouter собирает маршрутизатор из конфигурации:
// gpt*/text-davinci* → OpenAI, claude* → Anthropic.
func NewRouter(ctx context.Context, cfg config.AIConfig) *Router {
	logger := log.From(ctx)
	client := &http.Client{Timeout: cfg.Timeout}

	var openai, anthropic Provider
	if cfg.OpenAIKey != "" {
		openai = NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIKey, client)
	} else {
		logger.Warn("ai_provider_mocked", "provider", "openai")
		openai = NewMock("openai")
	}

	if cfg.AnthropicKey != "" {
		anthropic = NewAnthropic(cfg.AnthropicBaseURL, cfg.AnthropicKey, client)
	} else {
		logger.Warn("ai_provider_mocked", "provider", "anthropic")
		anthropic = NewMock("anthropic")
	}

	limit := rate.Limit(cfg.RPS)
	return &Router{routes: []route{
		{prefixes: []string{"gpt", "text-davinci"}, provider: Throttle(openai, limit, cfg.Burst)},
		{prefixes: []string{"claude"}, provider: Throttle(anthropic, limit, cfg.Burst)},
	}}
}

// Route добавляет провайдера для моделей с указанными префиксами.
// Более поздние маршруты проверяются после ранних.
func (r *Router) Route(p Provider, prefixes ...string) *Router {
	r.routes = append(r.routes, route{prefixes: prefixes, provider: p})
	return r
}

// Provider возвращает провайдера для модели.
func (r *Router) Provider(model string) (Provider, error) {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, rt := range r.routes {
		for _, p := range rt.prefixes {
			if strings.HasPrefix(m, p) {
				return rt.provider, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
}

// Complete нормализует параметры и выполняет команду у подходящего провайдера.
func (r *Router) Complete(ctx context.Context, req models.CommandRequest) (*models.Completion, error) {
	const op = "ai.Router.Complete"

	p, err := r.Provider(req.Model)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	out, err := p.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, p.Name(), err)
	}

	return out, nil
}

// throttled ограничивает исходящую частоту запросов к провайдеру.
type throttled struct {
	Provider
	lim *rate.Limiter
}

// Throttle оборачивает провайдера token bucket'ом. limit <= 0 — без ограничения.
func Throttle(p Provider, limit rate.Limit, burst int) Provider {
	if limit <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}

	return &throttled{Provider: p, lim: rate.NewLimiter(limit, burst)}
}

// Complete ждёт токен не дольше дедлайна ctx.
func (t *throttled) Complete(ctx context.Context, req models.CommandRequest) (*models.Completion, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: egress limit: %w", ErrProvider, err)
	}

	return t.Provider.Complete(ctx, req)
}
