package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "farmtech.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
link:
  port: /dev/ttyACM0
  retry_interval: 3s
store:
  path: /var/lib/farmtech/farmtech.db
weather:
  api_key: secret
  city: Sao Paulo
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(1), cfg.AreaID)
	assert.Equal(t, "/dev/ttyACM0", cfg.Link.Port)
	assert.Equal(t, 115200, cfg.Link.Baud)
	assert.Equal(t, 3*time.Second, cfg.Link.RetryInterval)
	assert.Equal(t, 30*time.Second, cfg.Link.ReconnectAfter)
	assert.Equal(t, "/var/lib/farmtech/farmtech.db", cfg.Store.Path)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.False(t, cfg.MQTTEnabled())
	assert.Equal(t, "Sao Paulo", cfg.Weather.City)
	assert.Equal(t, "BR", cfg.Weather.Country)
	assert.Equal(t, 5*time.Minute, cfg.Weather.RefreshInterval)
	assert.Equal(t, 15*time.Minute, cfg.Weather.MaxAge)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "link:\n  port: /dev/ttyUSB0\n")
	t.Setenv("FARMTECH_SERIAL_PORT", "/dev/ttyUSB9")
	t.Setenv("RABBITMQ_HOST", "rabbitmq")
	t.Setenv("RABBITMQ_PORT", "1884")
	t.Setenv("INFLUX_URL", "http://influx:8086")
	t.Setenv("OWM_REFRESH", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB9", cfg.Link.Port)
	assert.True(t, cfg.MQTTEnabled())
	assert.Equal(t, 1884, cfg.MQTT.Port)
	assert.Equal(t, "http://influx:8086", cfg.Influx.URL)
	assert.Equal(t, time.Minute, cfg.Weather.RefreshInterval)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("FARMTECH_SERIAL_PORT", "COM3")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "COM3", cfg.Link.Port)
}

func TestLoad_MissingPort(t *testing.T) {
	t.Setenv("FARMTECH_SERIAL_PORT", "")
	_, err := Load(writeConfig(t, "store:\n  path: x.db\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port is required")
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "link: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
