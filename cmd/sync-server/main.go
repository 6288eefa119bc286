package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tabletop-sync/internal/app"
	"tabletop-sync/internal/config"
	"tabletop-sync/internal/logging"
	"tabletop-sync/internal/store"
	httptransport "tabletop-sync/internal/transport/http"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	if err := logging.Init(cfg.Log); err != nil {
		panic(err)
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st *store.Store
	if cfg.Server.PostgresDSN != "" {
		st, err = store.New(cfg.Server.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("store init failed")
		}
		defer st.Close()
		if err := st.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("db ping failed")
		}
	} else {
		log.Warn().Msg("POSTGRES_DSN not set; sessions are kept in memory only")
	}

	a, err := app.New(cfg.Server, st)
	if err != nil {
		log.Fatal().Err(err).Msg("app init failed")
	}
	if err := a.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("restore sessions failed")
	}
	httptransport.LogRoutes(a.HTTP)

	if err := a.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}
