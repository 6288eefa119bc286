package webhook

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tabletop-sync/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromServerInlineTargets(t *testing.T) {
	cfg, err := ConfigFromServer(config.ServerConfig{
		WebhookTargets:   `[{"endpoint":"https://hooks.example/tt","secret":"k","events":["session_ended"]}]`,
		WebhookWorkers:   4,
		WebhookRetryBase: time.Second,
	})
	require.NoError(t, err)
	require.True(t, cfg.Enabled())
	assert.Equal(t, "https://hooks.example/tt", cfg.Targets[0].Endpoint)
	assert.Equal(t, []string{"session_ended"}, cfg.Targets[0].Events)
	assert.Equal(t, 4, cfg.Workers)
}

func TestConfigFromServerFileOverridesInline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hooks.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"endpoint":"http://localhost:9000/in"}]`), 0o600))

	cfg, err := ConfigFromServer(config.ServerConfig{
		WebhookTargets:    `[{"endpoint":"https://ignored.example"}]`,
		WebhookConfigPath: path,
	})
	require.NoError(t, err)
	require.Len(t, cfg.Targets, 1)
	assert.Equal(t, "http://localhost:9000/in", cfg.Targets[0].Endpoint)
}

func TestConfigFromServerEmptyIsDisabled(t *testing.T) {
	cfg, err := ConfigFromServer(config.ServerConfig{})
	require.NoError(t, err)
	assert.False(t, cfg.Enabled())
}

func TestParseTargetsRejectsBadEndpoint(t *testing.T) {
	_, err := ParseTargets(`[{"endpoint":"ftp://x"}]`)
	assert.ErrorIs(t, err, errInvalidTarget)
	_, err = ParseTargets(`{`)
	assert.Error(t, err)
}
