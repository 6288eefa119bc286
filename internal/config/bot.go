package config

import "github.com/caarlos0/env/v11"

// BotConfig drives the headless GM used for local play and smoke tests.
type BotConfig struct {
	WSURL         string `env:"WS_URL" envDefault:"ws://localhost:8080/ws"`
	APIURL        string `env:"API_URL" envDefault:"http://localhost:8080"`
	SessionID     string `env:"SESSION_ID,required,notEmpty"`
	ParticipantID string `env:"PARTICIPANT_ID" envDefault:"gm"`
	Token         string `env:"TOKEN"`
	CampaignID    string `env:"CAMPAIGN_ID"` // documents are fetched when set
	RulesFile     string `env:"RULES_FILE"`
}

func LoadBot() (BotConfig, error) {
	var cfg BotConfig
	err := env.Parse(&cfg)
	return cfg, err
}
