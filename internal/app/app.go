// Package app wires the sync server's components into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tabletop-sync/internal/app/campaign"
	"tabletop-sync/internal/app/identity"
	appsession "tabletop-sync/internal/app/session"
	"tabletop-sync/internal/authority"
	"tabletop-sync/internal/broadcast"
	"tabletop-sync/internal/config"
	"tabletop-sync/internal/eventfeed"
	"tabletop-sync/internal/heartbeat"
	"tabletop-sync/internal/protocol"
	"tabletop-sync/internal/router"
	"tabletop-sync/internal/session"
	"tabletop-sync/internal/store"
	httptransport "tabletop-sync/internal/transport/http"
	"tabletop-sync/internal/webhook"
	"tabletop-sync/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg config.ServerConfig

	Sessions  *session.Directory
	Registry  *authority.Registry
	Monitor   *heartbeat.Monitor
	Router    *router.Router
	Hub       *broadcast.Hub
	Feeds     *eventfeed.Manager
	Identity  *ws.Identity
	WS        *ws.Server
	Lifecycle *appsession.Service
	Webhooks  *webhook.Manager
	HTTP      *chi.Mux
}

// New builds the server. st may be nil, in which case sessions live only in
// memory and campaign documents are unavailable.
func New(cfg config.ServerConfig, st *store.Store) (*App, error) {
	var (
		persister session.Persister
		docs      campaign.Store
		db        httptransport.Pinger
	)
	if st != nil {
		persister, docs, db = st, st, st
	}

	a := &App{cfg: cfg}
	a.Sessions = session.NewDirectory(persister)
	a.Registry = authority.New(cfg.LivenessWindow())
	a.Feeds = eventfeed.NewManager(cfg.EventBufferSize)
	hooks, err := webhook.ConfigFromServer(cfg)
	if err != nil {
		return nil, err
	}
	a.Webhooks = webhook.NewManager(hooks)
	if hooks.Enabled() {
		a.Feeds.AddSink(a.Webhooks.OnEvent)
	}
	a.Hub = broadcast.NewHub(a.Sessions, a.Registry, a.Feeds)
	a.Router = router.New(a.Sessions, a.Registry,
		router.WithTimeout(cfg.ActionTimeout),
		router.WithGCAge(cfg.PendingGCAge),
	)
	// The router fails pending requests before the hub announces the loss.
	a.Monitor = heartbeat.NewMonitor(a.Registry, a.Sessions, cfg.HeartbeatInterval, a.Router, a.Hub)
	a.Identity = ws.NewIdentity(cfg.JWTSecret)

	var validator *protocol.Validator
	if cfg.ValidateFrames {
		v, err := protocol.NewValidator()
		if err != nil {
			return nil, fmt.Errorf("compile protocol schema: %w", err)
		}
		validator = v
	}
	a.WS = ws.NewServer(ws.Deps{
		Sessions:  a.Sessions,
		Registry:  a.Registry,
		Monitor:   a.Monitor,
		Router:    a.Router,
		Hub:       a.Hub,
		Identity:  a.Identity,
		Validator: validator,
	}, ws.Options{
		SendQueueSize:   cfg.SendQueueSize,
		MaxMessageBytes: cfg.MaxMessageBytes,
		WriteTimeout:    cfg.WriteTimeout,
		AllowedOrigins:  cfg.AllowedOrigins,
	})

	a.Lifecycle = appsession.NewService(a.Sessions, a.Registry, a.Router, a.Hub, a.Feeds)
	a.HTTP = httptransport.NewRouter(httptransport.Deps{
		Sessions:    a.Lifecycle,
		Campaigns:   campaign.NewService(docs),
		Tokens:      identity.NewService(a.Identity, cfg.TokenTTL),
		Feeds:       a.Feeds,
		DB:          db,
		WS:          a.WS.HandleWS,
		AdminAPIKey: cfg.AdminAPIKey,
	})
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set; websocket handshakes trust participant_id")
	}
	return a, nil
}

// Restore reloads live sessions from the store. Each one waits for a full
// snapshot from its authority before routing actions again.
func (a *App) Restore(ctx context.Context) error {
	n, err := a.Sessions.Restore(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Int("sessions", n).Msg("sessions restored; awaiting authority resync")
	}
	return nil
}

// Run serves HTTP and runs the heartbeat monitor and webhook workers until
// ctx is done, then shuts the listener down gracefully.
func (a *App) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.HTTP,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	a.Monitor.Start(gctx)
	a.Webhooks.Start(gctx)
	g.Go(func() error {
		log.Info().Str("addr", a.cfg.HTTPAddr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		log.Info().Msg("http shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
