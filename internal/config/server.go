package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type ServerConfig struct {
	HTTPAddr    string        `env:"HTTP_ADDR" envDefault:":8080"`
	PostgresDSN string        `env:"POSTGRES_DSN"` // empty runs fully in memory
	JWTSecret   string        `env:"JWT_SECRET"`   // empty trusts participant_id on the handshake
	AdminAPIKey string        `env:"ADMIN_API_KEY"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"12h"`

	ActionTimeout      time.Duration `env:"ACTION_TIMEOUT" envDefault:"30s"`
	PendingGCAge       time.Duration `env:"PENDING_GC_AGE" envDefault:"60s"`
	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s"`
	LivenessMultiplier int           `env:"LIVENESS_MULTIPLIER" envDefault:"2"`

	SendQueueSize   int           `env:"SEND_QUEUE_SIZE" envDefault:"64"`
	MaxMessageBytes int64         `env:"MAX_MESSAGE_BYTES" envDefault:"1048576"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	ValidateFrames  bool          `env:"VALIDATE_FRAMES" envDefault:"true"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:","`

	EventBufferSize int           `env:"EVENT_BUFFER_SIZE" envDefault:"500"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	WebhookTargets    string        `env:"WEBHOOK_TARGETS"`
	WebhookConfigPath string        `env:"WEBHOOK_CONFIG_PATH"`
	WebhookWorkers    int           `env:"WEBHOOK_WORKERS" envDefault:"2"`
	WebhookRetryMax   int           `env:"WEBHOOK_RETRY_MAX" envDefault:"3"`
	WebhookRetryBase  time.Duration `env:"WEBHOOK_RETRY_BASE" envDefault:"500ms"`
	WebhookTimeout    time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`
}

// LivenessWindow is how long an authority may stay silent before it is
// demoted.
func (c ServerConfig) LivenessWindow() time.Duration {
	m := c.LivenessMultiplier
	if m < 1 {
		m = 2
	}
	return time.Duration(m) * c.HeartbeatInterval
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
