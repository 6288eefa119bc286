package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	appsession "tabletop-sync/internal/app/session"
	"tabletop-sync/internal/session"

	"github.com/go-chi/chi/v5"
)

type SessionHandlers struct {
	svc *appsession.Service
}

func NewSessionHandlers(svc *appsession.Service) *SessionHandlers {
	return &SessionHandlers{svc: svc}
}

func (h *SessionHandlers) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricSessionCreateTotal.Add(1)
		var in session.StartInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			metricSessionCreateErrors.Add(1)
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		view, err := h.svc.Start(r.Context(), in)
		if err != nil {
			metricSessionCreateErrors.Add(1)
			status, code := mapSessionErr(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	}
}

func (h *SessionHandlers) List() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"items": h.svc.List()})
	}
}

func (h *SessionHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.svc.Get(chi.URLParam(r, "session_id"))
		if err != nil {
			status, code := mapSessionErr(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (h *SessionHandlers) AddParticipant() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in appsession.AddParticipantInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		view, err := h.svc.AddParticipant(r.Context(), chi.URLParam(r, "session_id"), in)
		if err != nil {
			status, code := mapSessionErr(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (h *SessionHandlers) Pause() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.svc.Pause(r.Context(), chi.URLParam(r, "session_id"))
		if err != nil {
			status, code := mapSessionErr(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (h *SessionHandlers) Resume() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.svc.Resume(r.Context(), chi.URLParam(r, "session_id"))
		if err != nil {
			status, code := mapSessionErr(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (h *SessionHandlers) End() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.svc.End(r.Context(), chi.URLParam(r, "session_id")); err != nil {
			status, code := mapSessionErr(err)
			WriteHTTPError(w, status, code)
			return
		}
		metricSessionEndTotal.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func mapSessionErr(err error) (int, string) {
	switch {
	case errors.Is(err, appsession.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, appsession.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, appsession.ErrExists):
		return http.StatusConflict, "session_exists"
	case errors.Is(err, appsession.ErrEnded):
		return http.StatusGone, "session_ended"
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict, "invalid_status_transition"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
