package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
device:
  endpoint: "http://ahoy.local"
  timeout: 5

crawler:
  interval: 30

storage:
  type: database
  database:
    driver: mysql
    dsn: "user:pass@tcp(localhost:3306)/solar"

logging:
  level: "debug"
  format: "text"
`)

	config, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, "http://ahoy.local", config.Device.Endpoint)
	assert.Equal(t, 5*time.Second, config.DeviceTimeout())
	assert.Equal(t, 30*time.Second, config.EffectiveInterval())
	assert.Equal(t, "database", config.Storage.Type)
	assert.Equal(t, "mysql", config.Storage.Database.Driver)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
}

func TestLoadDefaults(t *testing.T) {
	configPath := writeConfig(t, `
device:
  endpoint: "http://ahoy.local"
`)

	config, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, config.DeviceTimeout())
	assert.Equal(t, 2.0, config.Device.RateLimit)
	assert.Equal(t, 5*time.Minute, config.CatalogTTL())
	assert.Equal(t, 60*time.Second, config.EffectiveInterval())
	assert.Equal(t, 5, config.Crawler.FlushEvery)
	assert.Equal(t, "csv", config.Storage.Type)
	assert.Equal(t, "./out", config.Storage.CSV.Dir)
	assert.Equal(t, "ahoy", config.Storage.MQTT.TopicPrefix)
	assert.Equal(t, 50051, config.Server.Port)
	assert.Equal(t, 9090, config.Server.MetricsPort)
	assert.Equal(t, "json", config.Logging.Format)
}

func TestEffectiveIntervalFallback(t *testing.T) {
	for _, interval := range []int{0, -5} {
		c := &Config{Crawler: CrawlerConfig{Interval: interval}}
		assert.Equal(t, DefaultInterval, c.EffectiveInterval(), "interval %d", interval)
	}
}

func TestLoadWithEnvExpansion(t *testing.T) {
	t.Setenv("AHOY_HOST", "http://192.168.1.50")
	t.Setenv("INFLUX_TOKEN", "s3cret")

	configPath := writeConfig(t, `
device:
  endpoint: $AHOY_HOST
storage:
  type: influxdb
  influxdb:
    url: "http://influx:8086"
    token: ${INFLUX_TOKEN}
    org: home
    bucket: solar
`)

	config, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://192.168.1.50", config.Device.Endpoint)
	assert.Equal(t, "s3cret", config.Storage.InfluxDB.Token)
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("AHOY_DEVICE_ENDPOINT", "http://override")
	t.Setenv("AHOY_CRAWLER_INTERVAL", "15")

	configPath := writeConfig(t, `
device:
  endpoint: "http://from-file"
crawler:
  interval: 60
`)

	config, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://override", config.Device.Endpoint)
	assert.Equal(t, 15*time.Second, config.EffectiveInterval())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{name: "missing endpoint", content: "crawler:\n  interval: 10\n", invalid: true},
		{name: "unknown storage", content: "device:\n  endpoint: http://x\nstorage:\n  type: s3\n", invalid: true},
		{name: "qos above 2", content: "device:\n  endpoint: http://x\nstorage:\n  type: mqtt\n  mqtt:\n    qos: 3\n", invalid: true},
		{name: "qos wrapping a byte", content: "device:\n  endpoint: http://x\nstorage:\n  mqtt:\n    qos: 256\n", invalid: true},
		{name: "negative qos", content: "device:\n  endpoint: http://x\nstorage:\n  mqtt:\n    qos: -1\n", invalid: true},
		{name: "malformed yaml", content: "device: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	watchDebounce = 50 * time.Millisecond
	t.Cleanup(func() { watchDebounce = 2 * time.Second })

	configPath := writeConfig(t, "device:\n  endpoint: http://x\ncrawler:\n  interval: 60\n")
	logger, _ := test.NewNullLogger()

	changes := make(chan *Config, 4)
	require.NoError(t, Watch(configPath, logger, func(c *Config) { changes <- c }))

	require.NoError(t, os.WriteFile(configPath, []byte("device:\n  endpoint: http://x\ncrawler:\n  interval: 20\n"), 0644))

	select {
	case c := <-changes:
		assert.Equal(t, 20*time.Second, c.EffectiveInterval())
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}
