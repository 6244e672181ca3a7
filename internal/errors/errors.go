// errors стандартизирует ответы об ошибках HTTP-слоя.
// На вход он принимает доменную ошибку (сервис, резолвер, лимитер),
// а на выход даёт:
//   - корректный HTTP-статус;
//   - краткое безопасное message без утечки деталей.
//
// Источник истинности по маппингу: комментарии к sentinel-ошибкам пакетов
// service, identity, ratelimit и ai.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/pribylovaa/command-my-startup/internal/ai"
	"github.com/pribylovaa/command-my-startup/internal/identity"
	"github.com/pribylovaa/command-my-startup/internal/ratelimit"
	"github.com/pribylovaa/command-my-startup/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type mapping struct {
	target  error
	status  int
	code    string
	message string
}

// table просматривается сверху вниз; первое совпадение errors.Is побеждает.
// Более специфичные ошибки стоят раньше общих (ErrInvalidEmail раньше ErrInvalidArgument).
var table = []mapping{
	{identity.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", "authentication required"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid email or password"},
	// Отозванный и негодный refresh-токен снаружи неразличимы.
	{service.ErrTokenRevoked, http.StatusUnauthorized, "invalid_token", "invalid token"},
	{service.ErrInvalidToken, http.StatusUnauthorized, "invalid_token", "invalid token"},
	{service.ErrEmailTaken, http.StatusConflict, "email_taken", "email already registered"},
	{service.ErrInvalidEmail, http.StatusBadRequest, "invalid_email", "invalid email format"},
	{service.ErrEmptyPassword, http.StatusBadRequest, "invalid_password", "password is required"},
	{service.ErrWeakPassword, http.StatusBadRequest, "weak_password", "password must be at least 8 characters and contain a letter and a digit"},
	{service.ErrQuotaExceeded, http.StatusBadRequest, "quota_exceeded", "api key limit reached"},
	{ai.ErrUnsupportedModel, http.StatusBadRequest, "unsupported_model", "unsupported model"},
	{service.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument", "invalid argument"},
	{ErrBadRequest, http.StatusBadRequest, "invalid_argument", "invalid request body"},
	{service.ErrNotFound, http.StatusNotFound, "not_found", "not found"},
	{ErrRouteNotFound, http.StatusNotFound, "not_found", "not found"},
	{ErrMethodNotAllowed, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed"},
	{service.ErrFeatureDisabled, http.StatusServiceUnavailable, "unavailable", "feature is not configured"},
	{ai.ErrProvider, http.StatusBadGateway, "provider_error", "ai provider error"},
	{context.Canceled, StatusClientClosedRequest, "canceled", "canceled"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"},
}

var (
	// ErrBadRequest — тело или параметры запроса не разобрались (битый JSON,
	// лишние поля, не-UUID в пути). HTTP 400.
	ErrBadRequest = stderrors.New("bad request")
	// ErrRouteNotFound — маршрута нет. HTTP 404.
	ErrRouteNotFound = stderrors.New("route not found")
	// ErrMethodNotAllowed — маршрут есть, метода нет. HTTP 405.
	ErrMethodNotAllowed = stderrors.New("method not allowed")
)

// ToHTTP конвертирует доменную ошибку в HTTP-статус и унифицированный ответ для фронта.
//
// Поведение:
//   - err == nil - это программная ошибка вызова: возвращаем 500/internal,
//     чтобы не послать "200 OK" с телом ошибки и не маскировать баг.
//   - *ratelimit.RateLimitedError - 429/rate_limited.
//   - sentinel из table - соответствующий статус.
//   - прочее - 500/internal (без утечки деталей).
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return internal()
	}

	var rl *ratelimit.RateLimitedError
	if stderrors.As(err, &rl) {
		return http.StatusTooManyRequests, ErrorResponse{
			Error: APIError{
				Code:    "rate_limited",
				Message: "too many requests, retry after " + strconv.Itoa(int(rl.Decision.RetryAfter.Seconds())) + "s",
			},
		}
	}

	for _, m := range table {
		if stderrors.Is(err, m.target) {
			return m.status, ErrorResponse{
				Error: APIError{
					Code:    m.code,
					Message: m.message,
				},
			}
		}
	}

	return internal()
}

func internal() (int, ErrorResponse) {
	return http.StatusInternalServerError, ErrorResponse{
		Error: APIError{
			Code:    "internal",
			Message: "internal error",
		},
	}
}

// WriteError — хелпер для HTTP-хендлеров и middleware.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
// На 401 выставляет WWW-Authenticate: Bearer, на 429 — заголовки лимитера.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	// Прокидываем request_id для фронта, чтобы он мог репортить баги с привязкой.
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", "Bearer")
	case http.StatusTooManyRequests:
		var rl *ratelimit.RateLimitedError
		if stderrors.As(err, &rl) {
			for k, v := range rl.Decision.Headers() {
				w.Header().Set(k, v)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
