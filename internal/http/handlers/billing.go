package handlers

import (
	"io"
	"net/http"

	apierrors "github.com/pribylovaa/command-my-startup/internal/errors"
)

// maxWebhookBytes — Stripe не присылает событий больше 64 KiB.
const maxWebhookBytes = 64 << 10

// StripeWebhook проверяет подпись по сырому телу, поэтому тело не декодируется заранее.
func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	if err := h.svc.HandleStripeWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{Ok: true})
}
