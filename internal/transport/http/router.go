package httptransport

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"tabletop-sync/internal/app/campaign"
	"tabletop-sync/internal/app/identity"
	appsession "tabletop-sync/internal/app/session"
	"tabletop-sync/internal/eventfeed"
	"tabletop-sync/internal/protocol"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	Sessions    *appsession.Service
	Campaigns   *campaign.Service
	Tokens      *identity.Service
	Feeds       *eventfeed.Manager
	DB          Pinger
	WS          http.HandlerFunc
	AdminAPIKey string
}

func NewRouter(d Deps) *chi.Mux {
	sessionHandlers := NewSessionHandlers(d.Sessions)
	campaignHandlers := NewCampaignHandlers(d.Campaigns)
	adminHandlers := NewAdminHandlers(d.DB, d.Tokens)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(AccessLog()).Get("/healthz", adminHandlers.Health())
	r.Handle("/metrics", promhttp.Handler())
	if d.WS != nil {
		r.Get("/ws", d.WS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(AccessLog())
		r.Get("/protocol/schema", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/schema+json")
			_, _ = w.Write(protocol.SchemaJSON())
		})
		r.Get("/sessions/{session_id}", sessionHandlers.Get())
		r.Get("/sessions/{session_id}/events", EventsSSEHandler(d.Sessions, d.Feeds))
		r.Get("/campaigns/{campaign_id}/documents", campaignHandlers.Documents())

		r.Group(func(r chi.Router) {
			r.Use(AdminAuth(d.AdminAPIKey))
			r.Use(AuditBodies(4096))
			r.Get("/sessions", sessionHandlers.List())
			r.Post("/sessions", sessionHandlers.Create())
			r.Post("/sessions/{session_id}/participants", sessionHandlers.AddParticipant())
			r.Post("/sessions/{session_id}/pause", sessionHandlers.Pause())
			r.Post("/sessions/{session_id}/resume", sessionHandlers.Resume())
			r.Delete("/sessions/{session_id}", sessionHandlers.End())

			r.Put("/campaigns/{campaign_id}/documents/{document_id}", campaignHandlers.PutDocument())
			r.Delete("/campaigns/{campaign_id}/documents/{document_id}", campaignHandlers.DeleteDocument())
			r.Post("/campaigns/{campaign_id}/members", campaignHandlers.AddMember())
			r.Post("/tokens", adminHandlers.IssueToken())
			r.Get("/debug/vars", expvar.Handler().ServeHTTP)
		})
	})
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 64)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
