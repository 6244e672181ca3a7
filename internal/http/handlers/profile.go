package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/command-my-startup/internal/errors"
	"github.com/pribylovaa/command-my-startup/internal/http/middleware"
	"github.com/pribylovaa/command-my-startup/internal/identity"
	"github.com/pribylovaa/command-my-startup/internal/models"
)

// caller достаёт личность, положенную middleware.Identify.
// Маршруты за RequireAuth её всегда имеют; проверка страхует от ошибки в роутере.
func caller(w http.ResponseWriter, r *http.Request) (*models.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, identity.ErrUnauthenticated)
		return nil, false
	}
	return id, true
}

func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	p, err := h.svc.Profile(r.Context(), id.User.ID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userFromProfile(p))
}

func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var in updateProfileRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	p, err := h.svc.UpdateProfile(r.Context(), id.User.ID, models.ProfileUpdate{
		FullName: in.FullName,
		Email:    in.Email,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userFromProfile(p))
}

func (h *Handlers) AvatarPresign(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var in avatarPresignRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	info, err := h.svc.AvatarUploadURL(r.Context(), id.User.ID, in.ContentType, in.ContentLength)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, avatarPresignFromInfo(info))
}

func (h *Handlers) AvatarConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var in avatarConfirmRequest
	if err := decodeStrict(w, r, &in); err != nil || in.AvatarKey == "" {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	p, err := h.svc.ConfirmAvatar(r.Context(), id.User.ID, in.AvatarKey)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userFromProfile(p))
}

func (h *Handlers) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	keys, err := h.svc.ListAPIKeys(r.Context(), id.User.ID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	out := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, apiKeyFromModel(k))
	}

	writeJSON(w, http.StatusOK, out)
}

// CreateAPIKey — единственный ответ, в котором виден ключ целиком.
func (h *Handlers) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var in createAPIKeyRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	issued, err := h.svc.CreateAPIKey(r.Context(), id.User.ID, in.Name)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	out := apiKeyFromModel(issued.APIKey)
	out.Key = issued.Plain
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handlers) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	keyID, ok := uuidParam(r, "id")
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	if err := h.svc.DeleteAPIKey(r.Context(), id.User.ID, keyID); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
