package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"tabletop-sync/internal/app/campaign"

	"github.com/go-chi/chi/v5"
)

type CampaignHandlers struct {
	svc *campaign.Service
}

func NewCampaignHandlers(svc *campaign.Service) *CampaignHandlers {
	return &CampaignHandlers{svc: svc}
}

func (h *CampaignHandlers) Documents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := h.svc.Documents(r.Context(), chi.URLParam(r, "campaign_id"))
		if err != nil {
			status, code := mapCampaignErr(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *CampaignHandlers) PutDocument() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in campaign.PutDocumentInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		err := h.svc.PutDocument(r.Context(), chi.URLParam(r, "campaign_id"), chi.URLParam(r, "document_id"), in)
		if err != nil {
			status, code := mapCampaignErr(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (h *CampaignHandlers) DeleteDocument() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.svc.DeleteDocument(r.Context(), chi.URLParam(r, "campaign_id"), chi.URLParam(r, "document_id"))
		if err != nil {
			status, code := mapCampaignErr(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (h *CampaignHandlers) AddMember() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in campaign.AddMemberInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if err := h.svc.AddMember(r.Context(), chi.URLParam(r, "campaign_id"), in); err != nil {
			status, code := mapCampaignErr(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func mapCampaignErr(err error) (int, string) {
	switch {
	case errors.Is(err, campaign.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, campaign.ErrNotFound):
		return http.StatusNotFound, "document_not_found"
	case errors.Is(err, campaign.ErrUnavailable):
		return http.StatusServiceUnavailable, "document_store_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
