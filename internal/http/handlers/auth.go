package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/pribylovaa/command-my-startup/internal/errors"
	"github.com/pribylovaa/command-my-startup/internal/http/middleware"
	"github.com/pribylovaa/command-my-startup/internal/identity"
	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/service"
)

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	sess, err := h.svc.Register(r.Context(), service.Registration{
		Email:    in.Email,
		Password: in.Password,
		FullName: in.FullName,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setSessionCookies(w, sess.Tokens)
	writeJSON(w, http.StatusCreated, authFromSession(sess, h.now()))
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	sess, err := h.svc.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setSessionCookies(w, sess.Tokens)
	writeJSON(w, http.StatusOK, authFromSession(sess, h.now()))
}

// Refresh принимает refresh-токен из тела или из cookie refresh_token.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeOptional(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	raw := in.RefreshToken
	if raw == "" {
		if c, err := r.Cookie(identity.RefreshCookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	sess, err := h.svc.Refresh(r.Context(), raw)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setSessionCookies(w, sess.Tokens)
	writeJSON(w, http.StatusOK, authFromSession(sess, h.now()))
}

// Logout отзывает refresh-токен (если он есть) и всегда очищает cookie.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeOptional(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	raw := in.RefreshToken
	if raw == "" {
		if c, err := r.Cookie(identity.RefreshCookie); err == nil {
			raw = c.Value
		}
	}

	if err := h.svc.Logout(r.Context(), raw); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, okResponse{Ok: true})
}

// Me отвечает и анонимным клиентам: фронт по нему решает, показывать ли вход.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, meResponse{Authenticated: false})
		return
	}

	user := userFromProfile(h.svc.ProfileOf(r.Context(), &id.User))
	writeJSON(w, http.StatusOK, meResponse{
		Authenticated: true,
		AuthMethod:    string(id.Method),
		User:          &user,
	})
}

func (h *Handlers) setSessionCookies(w http.ResponseWriter, p *models.TokenPair) {
	now := h.now()
	http.SetCookie(w, h.cookie(identity.AccessCookie, p.AccessToken, p.AccessExpiresAt.Sub(now)))
	http.SetCookie(w, h.cookie(identity.RefreshCookie, p.RefreshToken, p.RefreshExpiresAt.Sub(now)))
}

func (h *Handlers) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(identity.AccessCookie, "", -1))
	http.SetCookie(w, h.cookie(identity.RefreshCookie, "", -1))
}

// cookie собирает HttpOnly cookie; ttl < 0 удаляет её.
func (h *Handlers) cookie(name, value string, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cookies.Domain,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	if ttl < 0 {
		c.MaxAge = -1
		return c
	}

	c.MaxAge = int(ttl / time.Second)
	return c
}
