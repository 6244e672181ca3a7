package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HTTPObserver — приёмник метрик запроса (metrics.Metrics).
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, dur time.Duration)
}

// Metrics учитывает запрос по шаблону маршрута chi, а не по сырому пути,
// чтобы /api/history/{id} не порождал серию на каждый id.
func Metrics(obs HTTPObserver) Middleware {
	return func(next http.Handler) http.Handler {
		if obs == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}

			obs.ObserveHTTP(r.Method, route, sw.code(), time.Since(start))
		})
	}
}
