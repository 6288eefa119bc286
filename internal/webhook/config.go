package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"tabletop-sync/internal/config"
)

var errInvalidTarget = errors.New("invalid_webhook_target")

func ConfigFromServer(cfg config.ServerConfig) (Config, error) {
	out := Config{
		Workers:             cfg.WebhookWorkers,
		RetryMax:            cfg.WebhookRetryMax,
		RetryBase:           cfg.WebhookRetryBase,
		RequestTimeout:      cfg.WebhookTimeout,
		FailureThreshold:    3,
		CircuitOpenDuration: 30 * time.Second,
		DispatchBuffer:      1024,
	}
	raw := strings.TrimSpace(cfg.WebhookTargets)
	if path := strings.TrimSpace(cfg.WebhookConfigPath); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read webhook config %q: %w", path, err)
		}
		raw = strings.TrimSpace(string(b))
	}
	if raw == "" {
		return out, nil
	}
	targets, err := ParseTargets(raw)
	if err != nil {
		return Config{}, err
	}
	out.Targets = targets
	return out, nil
}

func ParseTargets(raw string) ([]Target, error) {
	var targets []Target
	if err := json.Unmarshal([]byte(raw), &targets); err != nil {
		return nil, fmt.Errorf("parse webhook targets: %w", err)
	}
	for i, t := range targets {
		u, err := url.Parse(strings.TrimSpace(t.Endpoint))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("target %d: %w: endpoint %q", i, errInvalidTarget, t.Endpoint)
		}
		targets[i].Endpoint = u.String()
	}
	return targets, nil
}
