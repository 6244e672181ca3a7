package middleware

import (
	"context"
	"net/http"

	apierrors "github.com/pribylovaa/command-my-startup/internal/errors"
	"github.com/pribylovaa/command-my-startup/internal/identity"
	"github.com/pribylovaa/command-my-startup/internal/models"
	logctx "github.com/pribylovaa/command-my-startup/internal/pkg/log"
)

type identityKey struct{}

// OptionalResolver — разрешение учётных данных без отказа (identity.Resolver).
type OptionalResolver interface {
	ResolveOptional(ctx context.Context, r *http.Request) *models.Identity
}

// WithIdentity кладёт личность вызывающего в контекст.
func WithIdentity(ctx context.Context, id *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom достаёт личность, положенную Identify.
func IdentityFrom(ctx context.Context) (*models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*models.Identity)
	return id, ok && id != nil
}

// Identify один раз на запрос разрешает учётные данные.
// Неудача не отклоняет запрос: анонимный доступ решают RequireAuth и лимитер.
// Успешная личность обогащает request-scoped логгер полями user_id и auth_method.
func Identify(res OptionalResolver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := res.ResolveOptional(r.Context(), r)
			if id == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithIdentity(r.Context(), id)
			ctx = logctx.With(ctx, "user_id", id.User.ID.String(), "auth_method", string(id.Method))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth отвечает 401 с WWW-Authenticate: Bearer, если Identify не нашёл личность.
func RequireAuth() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFrom(r.Context()); !ok {
				apierrors.WriteError(w, r, identity.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
