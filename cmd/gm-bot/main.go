// Command gm-bot is a headless game master. It loads the campaign documents,
// holds authority over one session and evaluates actions with expression
// rules.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tabletop-sync/internal/client"
	"tabletop-sync/internal/config"
	"tabletop-sync/internal/gamestate"
	"tabletop-sync/internal/logging"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var defaultRules = map[string]client.Rule{
	"next_round": {
		Set: map[string]string{"turn.round": "turn_round + 1", "turn.actor": "player_id"},
	},
	"adjust": {
		Guard: "params_amount >= -100 && params_amount <= 100",
		Set:   map[string]string{"session.score": "session_score + params_amount"},
	},
}

func main() {
	_ = godotenv.Load()

	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	if err := logging.Init(logCfg); err != nil {
		panic(err)
	}
	cfg, err := config.LoadBot()
	if err != nil {
		log.Fatal().Err(err).Msg("load bot config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rules, err := loadRules(cfg.RulesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load rules failed")
	}
	handler, err := client.NewExprHandler(rules)
	if err != nil {
		log.Fatal().Err(err).Msg("compile rules failed")
	}
	docs, err := fetchDocuments(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("fetch campaign documents failed")
	}
	authority := client.NewAuthority(handler, gamestate.NewWithDocuments(docs))

	backoff := time.Second
	for {
		conn, err := client.Dial(ctx, client.DialConfig{
			URL:           cfg.WSURL,
			SessionID:     cfg.SessionID,
			ParticipantID: cfg.ParticipantID,
			Token:         cfg.Token,
		})
		if err == nil {
			backoff = time.Second
			log.Info().Str("session_id", cfg.SessionID).Msg("authority connected")
			err = authority.Run(ctx, conn)
			if err == nil {
				log.Info().Str("session_id", cfg.SessionID).Msg("session ended")
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retry_in", backoff).Msg("authority connection lost")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func loadRules(path string) (map[string]client.Rule, error) {
	if path == "" {
		return defaultRules, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules map[string]client.Rule
	if err := json.Unmarshal(b, &rules); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rules, nil
}

func fetchDocuments(ctx context.Context, cfg config.BotConfig) (map[string]json.RawMessage, error) {
	if cfg.CampaignID == "" {
		return nil, nil
	}
	endpoint := cfg.APIURL + "/api/campaigns/" + url.PathEscape(cfg.CampaignID) + "/documents"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		log.Warn().Str("campaign_id", cfg.CampaignID).Msg("server has no document store; starting empty")
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("documents request failed: " + resp.Status)
	}
	var body struct {
		Documents map[string]json.RawMessage `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	log.Info().Str("campaign_id", cfg.CampaignID).Int("documents", len(body.Documents)).Msg("campaign documents loaded")
	return body.Documents, nil
}
