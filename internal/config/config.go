package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. AHOY_DEVICE_ENDPOINT.
const EnvPrefix = "AHOY"

// DefaultInterval is used when crawler.interval is missing or not positive.
const DefaultInterval = 60 * time.Second

// watchDebounce collapses the burst of events editors produce on save.
var watchDebounce = 2 * time.Second

// ErrInvalidConfig is returned by Load when a required setting is missing
// or has an unsupported value.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration for the crawler
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

type DeviceConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	Timeout    int     `mapstructure:"timeout"`
	RateLimit  float64 `mapstructure:"rate_limit"`
	CatalogTTL int     `mapstructure:"catalog_ttl"`
}

type CrawlerConfig struct {
	Interval   int `mapstructure:"interval"`
	FlushEvery int `mapstructure:"flush_every"`
}

type StorageConfig struct {
	Type     string         `mapstructure:"type"`
	CSV      CSVConfig      `mapstructure:"csv"`
	Database DatabaseConfig `mapstructure:"database"`
	InfluxDB InfluxDBConfig `mapstructure:"influxdb"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
}

type CSVConfig struct {
	Dir string `mapstructure:"dir"`
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"`
	DSN            string `mapstructure:"dsn"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type InfluxDBConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// EffectiveInterval returns the configured crawl interval, falling back to
// DefaultInterval when it is not positive.
func (c *Config) EffectiveInterval() time.Duration {
	if c.Crawler.Interval <= 0 {
		return DefaultInterval
	}
	return time.Duration(c.Crawler.Interval) * time.Second
}

// DeviceTimeout returns the HTTP timeout for device requests.
func (c *Config) DeviceTimeout() time.Duration {
	return time.Duration(c.Device.Timeout) * time.Second
}

// CatalogTTL returns how long catalog metadata is cached.
func (c *Config) CatalogTTL() time.Duration {
	return time.Duration(c.Device.CatalogTTL) * time.Second
}

// Validate checks the settings the crawler cannot run without.
func (c *Config) Validate() error {
	if c.Device.Endpoint == "" {
		return fmt.Errorf("%w: device.endpoint is required", ErrInvalidConfig)
	}
	switch c.Storage.Type {
	case "csv", "database", "influxdb", "mqtt":
	default:
		return fmt.Errorf("%w: unknown storage.type %q", ErrInvalidConfig, c.Storage.Type)
	}
	if q := c.Storage.MQTT.QoS; q < 0 || q > 2 {
		return fmt.Errorf("%w: storage.mqtt.qos must be 0, 1 or 2, got %d", ErrInvalidConfig, q)
	}
	return nil
}

// Load reads configuration from file and environment variables.
//
// ${VAR} references in the file are expanded first; AHOY_* variables then
// override individual keys, e.g. AHOY_STORAGE_TYPE=database.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// First unmarshal into a map so the file is valid YAML before expansion
	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
	}

	data, err = yaml.Marshal(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw config: %w", err)
	}

	// Expand environment variables
	expandedData := os.ExpandEnv(string(data))

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewBufferString(expandedData)); err != nil {
		return nil, fmt.Errorf("failed to read expanded config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Watch reloads the file at path whenever it changes and passes the new
// configuration to onChange. Invalid edits are logged and skipped.
func Watch(path string, logger *logrus.Logger, onChange func(*Config)) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	var (
		mu       sync.Mutex
		timer    *time.Timer
		debounce = watchDebounce
	)
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			logger.WithError(err).Warn("Ignoring invalid config change")
			return
		}
		logger.WithField("path", path).Info("Config reloaded")
		onChange(cfg)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, reload)
	})
	v.WatchConfig()
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.endpoint", "")
	v.SetDefault("device.timeout", 10)
	v.SetDefault("device.rate_limit", 2)
	v.SetDefault("device.catalog_ttl", 300)

	v.SetDefault("crawler.interval", 60)
	v.SetDefault("crawler.flush_every", 5)

	v.SetDefault("storage.type", "csv")
	v.SetDefault("storage.csv.dir", "./out")
	v.SetDefault("storage.database.driver", "postgres")
	v.SetDefault("storage.database.dsn", "")
	v.SetDefault("storage.database.max_connections", 4)
	v.SetDefault("storage.influxdb.url", "")
	v.SetDefault("storage.influxdb.token", "")
	v.SetDefault("storage.influxdb.org", "")
	v.SetDefault("storage.influxdb.bucket", "")
	v.SetDefault("storage.mqtt.broker", "")
	v.SetDefault("storage.mqtt.client_id", "ahoycrawler")
	v.SetDefault("storage.mqtt.username", "")
	v.SetDefault("storage.mqtt.password", "")
	v.SetDefault("storage.mqtt.topic_prefix", "ahoy")
	v.SetDefault("storage.mqtt.qos", 1)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 50051)
	v.SetDefault("server.metrics_port", 9090)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
