package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/pribylovaa/command-my-startup/internal/errors"
	"github.com/pribylovaa/command-my-startup/internal/models"
	logctx "github.com/pribylovaa/command-my-startup/internal/pkg/log"
	"github.com/pribylovaa/command-my-startup/internal/ratelimit"
)

// Allower — решение по квоте (ratelimit.Limiter).
type Allower interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) ratelimit.Decision
}

// DecisionObserver — приёмник метрик лимитера (metrics.Metrics).
type DecisionObserver interface {
	RateLimitDecision(class string, allowed bool)
}

// RateLimitOptions — зависимости мидлвара лимитера.
// Stats и Observer необязательны.
type RateLimitOptions struct {
	Limiter  Allower
	Policy   *ratelimit.Policy
	Stats    ratelimit.StatsRecorder
	Observer DecisionObserver
	// TrustProxy — брать IP клиента из X-Forwarded-For.
	TrustProxy bool
	Now        func() time.Time
}

// RateLimit считает каждый запрос в окне его класса, в том числе запросы,
// которые потом завершатся ошибкой. Заголовки X-RateLimit-* выставляются на
// каждом ответе; при превышении отвечает 429 с Retry-After.
// Ключ квоты: пользователь, API-ключ или IP анонимного клиента.
func RateLimit(opts RateLimitOptions) Middleware {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			id, _ := IdentityFrom(r.Context())
			class := opts.Policy.Classify(r.URL.Path)

			var method models.AuthMethod
			if id != nil {
				method = id.Method
			}

			limit := opts.Policy.Limit(class, method)
			key := ratelimit.Key(class, callerKey(r, id, opts.TrustProxy))
			d := opts.Limiter.Allow(r.Context(), key, limit, opts.Policy.Window())

			if opts.Observer != nil {
				opts.Observer.RateLimitDecision(string(class), d.Allowed)
			}
			if opts.Stats != nil {
				if err := opts.Stats.Record(r.Context(), ratelimit.StatsEvent{Class: class, Allowed: d.Allowed, At: now()}); err != nil {
					logctx.From(r.Context()).Debug("ratelimit_stats_failed", "err", err)
				}
			}

			for k, v := range d.Headers() {
				w.Header().Set(k, v)
			}

			if !d.Allowed {
				logctx.From(r.Context()).Info("rate_limited",
					"class", string(class),
					"limit", d.Limit,
					"count", d.Count,
				)
				apierrors.WriteError(w, r, &ratelimit.RateLimitedError{Decision: d})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// callerKey — субъект квоты. Пользователи считаются по id, чтобы квота не
// зависела от числа устройств; API-ключи — отдельно от сессий владельца.
func callerKey(r *http.Request, id *models.Identity, trustProxy bool) string {
	if id != nil {
		if id.Method == models.AuthMethodAPIKey {
			return "key:" + id.APIKeyID.String()
		}
		return "user:" + id.User.ID.String()
	}

	return "ip:" + ClientIP(r, trustProxy)
}

// ClientIP возвращает IP клиента. X-Forwarded-For учитывается только при trustProxy:
// иначе клиент может подделать заголовок и обойти лимит.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xr != "" {
			if ip := net.ParseIP(xr); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
