package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(Flags())
	require.NoError(t, err)

	assert.Equal(t, "actuator-hub", cfg.App.Name)
	assert.Equal(t, "0.0.0.0:12345", cfg.GetServerAddr())
	assert.Equal(t, time.Duration(0), cfg.Session.MaxPingTime)
	assert.Equal(t, 54*time.Second, cfg.Session.PingPeriod())
	assert.False(t, cfg.Journal.Enabled)
	assert.True(t, cfg.IsDebugEnabled())
	assert.True(t, cfg.Session.StopOnDisconnect)
}

func TestVersionParts(t *testing.T) {
	major, minor, build := AppConfig{Version: "v2.5.17"}.VersionParts()
	assert.Equal(t, []uint32{2, 5, 17}, []uint32{major, minor, build})

	major, minor, build = AppConfig{Version: "3.x"}.VersionParts()
	assert.Equal(t, []uint32{3, 0, 0}, []uint32{major, minor, build})
}

func TestLoadFileFlagsAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  environment: production
session:
  server_name: Test Hub
  max_ping_time: 500ms
scanning:
  virtual:
    enabled: true
`), 0o644))

	t.Setenv("ACTUATOR_HUB_MQTT_TOPIC_PREFIX", "lab")

	flags := Flags()
	require.NoError(t, flags.Parse([]string{"--config", path, "--port", "9000"}))

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "Test Hub", cfg.Session.ServerName)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.MaxPingTime)
	assert.True(t, cfg.Scanning.Virtual.Enabled)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "lab", cfg.MQTT.TopicPrefix)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"environment":   "app:\n  environment: moon\n",
		"log level":     "logging:\n  level: loud\n",
		"port":          "server:\n  port: http\n",
		"journal":       "journal:\n  enabled: true\n  host: \"\"\n",
		"qos":           "mqtt:\n  qos: 3\n",
		"negative ping": "session:\n  max_ping_time: -1s\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			flags := Flags()
			require.NoError(t, flags.Parse([]string{"--config", path}))
			_, err := Load(flags)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	flags := Flags()
	require.NoError(t, flags.Parse([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}))
	_, err := Load(flags)
	assert.Error(t, err)
}
