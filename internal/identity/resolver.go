// identity превращает учётные данные запроса в models.Identity.
//
// Токены (bearer или cookie) проходят явную цепочку стратегий Verifier:
// сначала собственный кодек сервиса, затем внешние провайдеры
// (Supabase, Google). Цепочка существует ради совместимости: сервис
// принимает и свои токены, и токены внешнего провайдера аутентификации.
//
// API-ключи ищутся по sha256-хэшу, без декодирования.
//
// Любая неудача разрешения возвращается как ErrUnauthenticated; причина
// доступна через errors.Is только для логов и тестов.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/pkg/log"
	"github.com/pribylovaa/command-my-startup/internal/pkg/redact"
	"github.com/pribylovaa/command-my-startup/internal/storage"
)

var (
	// ErrUnauthenticated — учётные данные отсутствуют, неверны или пользователь удалён.
	// Маппинг: 401 + WWW-Authenticate: Bearer.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrNoCredential — в запросе нет ни одной формы учётных данных.
	ErrNoCredential = errors.New("no credential")
	// ErrBadAPIKey — ключ без префикса cms_ или с неверным алфавитом.
	ErrBadAPIKey = errors.New("malformed api key")
)

// UserStore — источник пользователей для резолвера.
type UserStore interface {
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
}

// APIKeyStore — источник API-ключей для резолвера.
type APIKeyStore interface {
	APIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Outcome — исход разрешения для метрик.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeNone    Outcome = "none"
)

// Resolver разрешает учётные данные запроса.
type Resolver struct {
	users        UserStore
	keys         APIKeyStore
	chain        []Verifier
	now          func() time.Time
	touchTimeout time.Duration
	observe      func(method models.AuthMethod, outcome Outcome)
}

// Option настраивает Resolver.
type Option func(*Resolver)

// WithClock подменяет источник времени для last_used_at.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithTouchTimeout ограничивает фоновое обновление last_used_at.
func WithTouchTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.touchTimeout = d }
}

// WithObserver вызывается на каждое разрешение (для метрик).
func WithObserver(fn func(method models.AuthMethod, outcome Outcome)) Option {
	return func(r *Resolver) { r.observe = fn }
}

// New создаёт резолвер. chain — стратегии проверки токенов в порядке применения.
func New(users UserStore, keys APIKeyStore, chain []Verifier, opts ...Option) *Resolver {
	r := &Resolver{
		users:        users,
		keys:         keys,
		chain:        chain,
		now:          time.Now,
		touchTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve извлекает учётные данные из запроса и разрешает их.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (*models.Identity, error) {
	cred, ok := ExtractCredential(req)
	if !ok {
		r.record("", OutcomeNone)
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, ErrNoCredential)
	}

	return r.ResolveCredential(ctx, cred)
}

// ResolveOptional — как Resolve, но любая неудача означает «анонимный вызов».
func (r *Resolver) ResolveOptional(ctx context.Context, req *http.Request) *models.Identity {
	id, err := r.Resolve(ctx, req)
	if err != nil {
		return nil
	}

	return id
}

// ResolveCredential разрешает уже извлечённые учётные данные.
// Паника внутри стратегий или хранилищ тоже превращается в ErrUnauthenticated.
func (r *Resolver) ResolveCredential(ctx context.Context, cred Credential) (id *models.Identity, err error) {
	const op = "identity.Resolver.ResolveCredential"

	logger := log.From(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("identity_panic", "op", op, "panic", rec)
			id, err = nil, fmt.Errorf("%w: panic during resolution", ErrUnauthenticated)
		}
	}()

	if cred.IsToken() {
		id, err = r.resolveToken(ctx, cred)
	} else {
		id, err = r.resolveAPIKey(ctx, cred)
	}

	if err != nil {
		logger.Debug("identity_rejected",
			"op", op,
			"credential", string(cred.Kind),
			"err", err,
		)
		r.record(methodOf(cred), OutcomeFailure)

		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	r.record(id.Method, OutcomeSuccess)

	return id, nil
}

func (r *Resolver) resolveToken(ctx context.Context, cred Credential) (*models.Identity, error) {
	var errs []error
	for _, v := range r.chain {
		p, err := v.Verify(ctx, cred.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.Name(), err))
			if stopsChain(err) {
				break
			}
			continue
		}

		user, err := r.loadUser(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.Name(), err)
		}

		return &models.Identity{User: *user, Method: p.Method, Provider: v.Name()}, nil
	}

	if len(errs) == 0 {
		return nil, errors.New("no verifiers configured")
	}

	return nil, errors.Join(errs...)
}

func (r *Resolver) resolveAPIKey(ctx context.Context, cred Credential) (*models.Identity, error) {
	if !ValidAPIKeyFormat(cred.Value) {
		return nil, fmt.Errorf("%w: %s", ErrBadAPIKey, redact.APIKey(cred.Value))
	}

	key, err := r.keys.APIKeyByHash(ctx, HashAPIKey(cred.Value))
	if err != nil {
		return nil, err
	}

	user, err := r.users.UserByID(ctx, key.UserID)
	if err != nil {
		return nil, err
	}

	r.touch(ctx, key.ID)

	return &models.Identity{
		User:     *user,
		Method:   models.AuthMethodAPIKey,
		APIKeyID: key.ID,
		Provider: "api_key",
	}, nil
}

// loadUser находит пользователя по ID, а для внешних провайдеров
// с неизвестным ID — по email.
func (r *Resolver) loadUser(ctx context.Context, p *Principal) (*models.User, error) {
	if uid, err := uuid.Parse(p.UserID); err == nil {
		user, err := r.users.UserByID(ctx, uid)
		if err == nil {
			return user, nil
		}

		if !errors.Is(err, storage.ErrNotFound) || p.Email == "" {
			return nil, err
		}
	} else if p.Email == "" {
		return nil, fmt.Errorf("subject %q is not a user id", p.UserID)
	}

	return r.users.UserByEmail(ctx, p.Email)
}

// touch обновляет last_used_at в фоне; ошибка только логируется.
func (r *Resolver) touch(ctx context.Context, keyID uuid.UUID) {
	at := r.now().UTC()
	logger := log.From(ctx)
	bg := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("api_key_touch_panic",
					"key_id", keyID.String(),
					"panic", rec,
					"stack", string(debug.Stack()),
				)
			}
		}()

		tctx, cancel := context.WithTimeout(bg, r.touchTimeout)
		defer cancel()

		if err := r.keys.TouchAPIKey(tctx, keyID, at); err != nil {
			logger.Warn("api_key_touch_failed", "key_id", keyID.String(), "err", err)
		}
	}()
}

func (r *Resolver) record(method models.AuthMethod, outcome Outcome) {
	if r.observe != nil {
		r.observe(method, outcome)
	}
}

func methodOf(cred Credential) models.AuthMethod {
	if cred.IsToken() {
		return models.AuthMethodToken
	}

	return models.AuthMethodAPIKey
}
