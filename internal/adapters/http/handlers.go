package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const readyTimeout = 2 * time.Second

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			logRequestFailure(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", "dependency check failed", err)
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "dependency check failed")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) getPassport(w http.ResponseWriter, r *http.Request) {
	passportID := chi.URLParam(r, "passportId")
	snapshot, err := h.service.GetPassport(r.Context(), passportID)
	if err != nil {
		writeMappedError(r.Context(), w, "get_passport", err)
		return
	}
	writeSuccess(w, http.StatusOK, snapshot)
}

func (h *Handler) listPassportUsage(w http.ResponseWriter, r *http.Request) {
	passportID := chi.URLParam(r, "passportId")
	query := r.URL.Query()
	limit := queryInt(query, "limit", 0)
	offset := queryInt(query, "offset", 0)

	items, err := h.service.ListPassportUsage(r.Context(), passportID, limit, offset)
	if err != nil {
		writeMappedError(r.Context(), w, "list_passport_usage", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"passportId": passportID,
		"usage":      items,
	})
}
