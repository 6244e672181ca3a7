// handlers — REST-эндпойнты поверх service.Service.
// Хендлеры только разбирают запрос, берут личность из контекста
// (middleware.Identify) и переводят ответы сервиса в JSON-модели.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/pribylovaa/command-my-startup/internal/errors"
	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/service"
	"github.com/pribylovaa/command-my-startup/internal/storage"
)

// maxBodyBytes — предел JSON-тела запроса. Промпт ограничен сервисом
// 32000 символами, в UTF-8 это до ~128 KiB.
const maxBodyBytes = 256 << 10

// Service — операции бизнес-слоя, нужные хендлерам (*service.Service).
type Service interface {
	Register(ctx context.Context, in service.Registration) (*service.Session, error)
	Login(ctx context.Context, email, password string) (*service.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*service.Session, error)
	Logout(ctx context.Context, refreshToken string) error

	Profile(ctx context.Context, userID uuid.UUID) (*service.Profile, error)
	ProfileOf(ctx context.Context, user *models.User) *service.Profile
	UpdateProfile(ctx context.Context, userID uuid.UUID, upd models.ProfileUpdate) (*service.Profile, error)
	AvatarUploadURL(ctx context.Context, userID uuid.UUID, contentType string, size int64) (*storage.UploadInfo, error)
	ConfirmAvatar(ctx context.Context, userID uuid.UUID, key string) (*service.Profile, error)

	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error)
	CreateAPIKey(ctx context.Context, userID uuid.UUID, name string) (*models.IssuedAPIKey, error)
	DeleteAPIKey(ctx context.Context, userID, keyID uuid.UUID) error

	ExecuteCommand(ctx context.Context, caller *models.Identity, in service.CommandInput) (*service.CommandResult, error)

	ListHistory(ctx context.Context, userID uuid.UUID, f models.HistoryFilter) ([]models.HistoryEntry, error)
	HistoryStats(ctx context.Context, userID uuid.UUID, period service.Period) (*models.HistoryStats, error)
	HistoryEntry(ctx context.Context, userID, id uuid.UUID) (*models.HistoryEntry, error)
	DeleteHistory(ctx context.Context, userID, id uuid.UUID) error

	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error
}

// CookieOptions — атрибуты cookie access_token/refresh_token.
type CookieOptions struct {
	Secure bool
	Domain string
}

// Handlers агрегирует зависимости хендлеров.
type Handlers struct {
	svc     Service
	cookies CookieOptions
	now     func() time.Time
}

func New(svc Service, cookies CookieOptions) *Handlers {
	return &Handlers{svc: svc, cookies: cookies, now: time.Now}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля и хвост после объекта.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(value); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

// decodeOptional — как decodeStrict, но пустое тело допустимо.
func decodeOptional(w http.ResponseWriter, r *http.Request, value any) error {
	err := decodeStrict(w, r, value)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// uuidParam разбирает UUID из параметра пути chi.
func uuidParam(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// NotFound — ответ chi на неизвестный маршрут в общем формате ошибок.
func NotFound(w http.ResponseWriter, r *http.Request) {
	apierrors.WriteError(w, r, apierrors.ErrRouteNotFound)
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apierrors.WriteError(w, r, apierrors.ErrMethodNotAllowed)
}
