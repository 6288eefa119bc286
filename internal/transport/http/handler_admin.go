package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"tabletop-sync/internal/app/identity"
	"tabletop-sync/internal/ws"
)

// Pinger reports database health. A nil Pinger means the server runs
// without a database.
type Pinger interface {
	Ping(ctx context.Context) error
}

type AdminHandlers struct {
	db     Pinger
	tokens *identity.Service
}

func NewAdminHandlers(db Pinger, tokens *identity.Service) *AdminHandlers {
	return &AdminHandlers{db: db, tokens: tokens}
}

func (h *AdminHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.db == nil {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "db": "disabled"})
			return
		}
		if err := h.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": "down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "db": "up"})
	}
}

func (h *AdminHandlers) IssueToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricTokenIssueTotal.Add(1)
		var in identity.IssueInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			metricTokenIssueErrors.Add(1)
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		resp, err := h.tokens.Issue(in)
		if err != nil {
			metricTokenIssueErrors.Add(1)
			switch {
			case errors.Is(err, identity.ErrInvalidRequest):
				WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			case errors.Is(err, identity.ErrTTLTooLong):
				WriteHTTPError(w, http.StatusBadRequest, "ttl_exceeds_limit")
			case errors.Is(err, ws.ErrTokensDisabled):
				WriteHTTPError(w, http.StatusConflict, "tokens_disabled")
			default:
				WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			}
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
