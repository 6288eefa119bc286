package config

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("invalid_config")

type AppConfig struct {
	Server ServerConfig
	Log    LogConfig
}

// LoadApp reads every section from the environment and rejects values the
// server cannot run with.
func LoadApp() (AppConfig, error) {
	logCfg, err := LoadLog()
	if err != nil {
		return AppConfig{}, fmt.Errorf("log config: %w", err)
	}
	serverCfg, err := LoadServer()
	if err != nil {
		return AppConfig{}, fmt.Errorf("server config: %w", err)
	}
	if err := serverCfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		Server: serverCfg,
		Log:    logCfg,
	}, nil
}

func (c ServerConfig) Validate() error {
	switch {
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: HEARTBEAT_INTERVAL must be positive", ErrInvalidConfig)
	case c.ActionTimeout <= 0:
		return fmt.Errorf("%w: ACTION_TIMEOUT must be positive", ErrInvalidConfig)
	case c.SendQueueSize <= 0:
		return fmt.Errorf("%w: SEND_QUEUE_SIZE must be positive", ErrInvalidConfig)
	case c.MaxMessageBytes <= 0:
		return fmt.Errorf("%w: MAX_MESSAGE_BYTES must be positive", ErrInvalidConfig)
	case c.WebhookTargets != "" && c.WebhookConfigPath != "":
		return fmt.Errorf("%w: set WEBHOOK_TARGETS or WEBHOOK_CONFIG_PATH, not both", ErrInvalidConfig)
	}
	return nil
}
