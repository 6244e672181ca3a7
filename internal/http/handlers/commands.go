package handlers

import (
	"net/http"

	"github.com/google/uuid"

	apierrors "github.com/pribylovaa/command-my-startup/internal/errors"
	"github.com/pribylovaa/command-my-startup/internal/service"
)

func (h *Handlers) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var in commandRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	res, err := h.svc.ExecuteCommand(r.Context(), id, service.CommandInput{
		Prompt:       in.Prompt,
		Model:        in.Model,
		SystemPrompt: in.SystemPrompt,
		Temperature:  in.Temperature,
		MaxTokens:    in.MaxTokens,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	out := commandResponse{
		Content:    res.Completion.Content,
		Model:      res.Completion.Model,
		TokensUsed: res.Completion.TokensUsed,
		CreatedAt:  res.CreatedAt.Unix(),
	}
	if res.HistoryID != uuid.Nil {
		out.ID = res.HistoryID.String()
	}

	writeJSON(w, http.StatusOK, out)
}
