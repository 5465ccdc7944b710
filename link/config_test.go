package link

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kwv/ndtscan/ndt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func clearMQTTEnv(t *testing.T) {
	for _, env := range []string{"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_PUBLISH_PREFIX"} {
		t.Setenv(env, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearMQTTEnv(t)
	path := writeConfig(t, `
matcher:
  maxRange: 8
  layers: 3
mqtt:
  broker: tcp://localhost:1883
  scanTopic: robot/scan
  publishPrefix: robot/ndt
http:
  addr: ":9000"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8.0, cfg.Matcher.MaxRange)
	assert.Equal(t, 3, cfg.Matcher.Layers)
	assert.Equal(t, ndt.DefaultConfig().Resolution, cfg.Matcher.Resolution, "unset fields keep defaults")
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "robot/scan", cfg.MQTT.ScanTopic)
	assert.Equal(t, "robot/ndt", cfg.MQTT.PublishPrefix)
	assert.Equal(t, "ndtscan", cfg.MQTT.ClientID)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.True(t, cfg.MQTTEnabled())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearMQTTEnv(t)
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_USERNAME", "robot")
	t.Setenv("MQTT_PASSWORD", "secret")

	cfg, err := LoadConfig(writeConfig(t, "mqtt:\n  broker: tcp://file:1883\n"))
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "robot", cfg.MQTT.Username)
	assert.Equal(t, "secret", cfg.MQTT.Password)
}

func TestLoadConfigErrors(t *testing.T) {
	clearMQTTEnv(t)
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid yaml", "matcher: [", "parsing config YAML"},
		{"invalid matcher", "matcher:\n  layers: 0\n", "matcher"},
		{"missing scan topic", "mqtt:\n  broker: tcp://x:1883\n  scanTopic: \"\"\n", "scanTopic"},
		{"bad qos", "mqtt:\n  qos: 3\n", "qos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "config file not found"))
}

func TestLoadConfigInvalidMatcherWrapsSentinel(t *testing.T) {
	clearMQTTEnv(t)
	_, err := LoadConfig(writeConfig(t, "matcher:\n  epsilon: -1\n"))
	assert.ErrorIs(t, err, ndt.ErrInvalidConfig)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	clearMQTTEnv(t)
	cfg := DefaultConfig()
	cfg.Matcher.Resolution = 16
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.QoS = 1

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestDefaultConfigDisablesMQTT(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.MQTTEnabled())
	assert.NoError(t, cfg.Validate())
}
