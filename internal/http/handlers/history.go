package handlers

import (
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/pribylovaa/command-my-startup/internal/errors"
	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/service"
)

// ListHistory: ?limit=1..100&offset>=0&start_date&end_date.
// Даты принимаются в RFC 3339 или YYYY-MM-DD; end_date в виде даты включает весь день.
func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	f, err := historyFilter(r)
	if err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	entries, err := h.svc.ListHistory(r.Context(), id.User.ID, f)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if f.Limit == 0 {
		f.Limit = service.DefaultHistoryLimit
	}

	out := historyListResponse{
		Items:  make([]historyEntryResponse, 0, len(entries)),
		Limit:  f.Limit,
		Offset: f.Offset,
	}
	for _, e := range entries {
		out.Items = append(out.Items, historyEntryFromModel(e))
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) HistoryStats(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	stats, err := h.svc.HistoryStats(r.Context(), id.User.ID, service.Period(r.URL.Query().Get("period")))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, historyStatsFromModel(stats))
}

func (h *Handlers) GetHistoryEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	entryID, ok := uuidParam(r, "id")
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	e, err := h.svc.HistoryEntry(r.Context(), id.User.ID, entryID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, historyEntryFromModel(*e))
}

func (h *Handlers) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	entryID, ok := uuidParam(r, "id")
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	if err := h.svc.DeleteHistory(r.Context(), id.User.ID, entryID); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func historyFilter(r *http.Request) (models.HistoryFilter, error) {
	q := r.URL.Query()
	var f models.HistoryFilter

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, err
		}
		f.Limit = n
	}

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, err
		}
		f.Offset = n
	}

	if v := q.Get("start_date"); v != "" {
		t, _, err := parseDate(v)
		if err != nil {
			return f, err
		}
		f.From = &t
	}

	if v := q.Get("end_date"); v != "" {
		t, dateOnly, err := parseDate(v)
		if err != nil {
			return f, err
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.To = &t
	}

	return f, nil
}

func parseDate(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), false, nil
	}

	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
