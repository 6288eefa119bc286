package httptransport

import (
	"net/http"

	appsession "tabletop-sync/internal/app/session"
	"tabletop-sync/internal/eventfeed"
	"tabletop-sync/internal/session"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

func EventsSSEHandler(svc *appsession.Service, feeds *eventfeed.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")
		view, err := svc.Get(sessionID)
		if err != nil {
			status, code := mapSessionErr(err)
			WriteHTTPError(w, status, code)
			return
		}
		if view.Status == session.StatusEnded {
			WriteHTTPError(w, http.StatusGone, "session_ended")
			return
		}
		if _, ok := w.(http.Flusher); !ok {
			WriteHTTPError(w, http.StatusInternalServerError, "stream_not_supported")
			return
		}

		metricSSEConnectionsTotal.Add(1)
		metricSSEConnectionsActive.Add(1)
		defer metricSSEConnectionsActive.Add(-1)

		log.Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("session_id", sessionID).
			Str("last_event_id", r.Header.Get("Last-Event-ID")).
			Msg("sse stream opened")
		eventfeed.Stream(w, r, feeds.Timeline(sessionID))
		log.Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("session_id", sessionID).
			Msg("sse stream closed")
	}
}
