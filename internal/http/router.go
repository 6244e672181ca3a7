package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/command-my-startup/internal/http/handlers"
	"github.com/pribylovaa/command-my-startup/internal/http/middleware"
	"github.com/pribylovaa/command-my-startup/internal/ratelimit"
)

// Observer — приёмник метрик HTTP-слоя и лимитера (metrics.Metrics).
type Observer interface {
	middleware.HTTPObserver
	middleware.DecisionObserver
}

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger  *slog.Logger
	Timeout time.Duration

	Resolver middleware.OptionalResolver
	// Limiter == nil выключает ограничение частоты.
	Limiter    middleware.Allower
	Policy     *ratelimit.Policy
	Stats      ratelimit.StatsRecorder
	Metrics    Observer
	TrustProxy bool

	CORSOrigins []string
	HSTS        bool
	Cookies     handlers.CookieOptions
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc handlers.Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
	)
	if opts.Metrics != nil {
		root.Use(middleware.Metrics(opts.Metrics))
	}
	root.Use(
		middleware.SecurityHeaders(opts.HSTS),
		middleware.CORS(opts.CORSOrigins),
		middleware.Timeout(opts.Timeout),
		middleware.Identify(opts.Resolver), // личность один раз на запрос, отказа здесь нет
	)
	if opts.Limiter != nil && opts.Policy != nil {
		rl := middleware.RateLimitOptions{
			Limiter:    opts.Limiter,
			Policy:     opts.Policy,
			Stats:      opts.Stats,
			TrustProxy: opts.TrustProxy,
		}
		if opts.Metrics != nil {
			rl.Observer = opts.Metrics
		}
		root.Use(middleware.RateLimit(rl))
	}

	h := handlers.New(svc, opts.Cookies)

	root.NotFound(handlers.NotFound)
	root.MethodNotAllowed(handlers.MethodNotAllowed)

	root.Route("/api", func(r chi.Router) {
		registerRoutes(r, h)
	})

	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers) {
	// auth: открытые маршруты, /me работает и без личности.
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})

	// billing: Stripe аутентифицируется подписью, а не личностью.
	r.Post("/billing/webhook", h.StripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth())

		// profile
		r.Get("/profile", h.GetProfile)
		r.Put("/profile", h.UpdateProfile)
		r.Post("/profile/avatar/presign", h.AvatarPresign)
		r.Post("/profile/avatar/confirm", h.AvatarConfirm)
		r.Get("/profile/api-keys", h.ListAPIKeys)
		r.Post("/profile/api-keys", h.CreateAPIKey)
		r.Delete("/profile/api-keys/{id}", h.DeleteAPIKey)

		// commands
		r.Post("/commands", h.ExecuteCommand)

		// history
		r.Get("/history", h.ListHistory)
		r.Get("/history/stats", h.HistoryStats)
		r.Get("/history/{id}", h.GetHistoryEntry)
		r.Delete("/history/{id}", h.DeleteHistoryEntry)
	})
}
