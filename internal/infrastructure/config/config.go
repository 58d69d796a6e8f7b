package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// appDir is the directory name used under the XDG data and cache homes.
const appDir = "framegate"

// Config is the root configuration structure for FrameGate.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Settings       SettingsConfig       `yaml:"settings"`
	ThumbnailCache ThumbnailCacheConfig `yaml:"thumbnail_cache"`
	Discovery      DiscoveryConfig      `yaml:"discovery"`
	Device         DeviceConfig         `yaml:"device"`
	API            APIConfig            `yaml:"api"`
	WebSocket      WebSocketConfig      `yaml:"websocket"`
	MQTT           MQTTConfig           `yaml:"mqtt"`
	InfluxDB       InfluxDBConfig       `yaml:"influxdb"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// SettingsConfig locates the persisted device selection.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// ThumbnailCacheConfig contains the SQLite thumbnail cache settings.
type ThumbnailCacheConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// DiscoveryConfig contains SSDP discovery settings.
type DiscoveryConfig struct {
	// Timeout is the default scan window in seconds.
	Timeout int `yaml:"timeout"`

	// SearchTarget is the ST header sent in the M-SEARCH query.
	SearchTarget string `yaml:"search_target"`

	// Vendor is matched case-insensitively against the descriptor's manufacturer.
	Vendor string `yaml:"vendor"`

	// DefaultName is used when a descriptor has neither friendlyName nor modelName.
	DefaultName string `yaml:"default_name"`

	// DescriptorTimeout bounds each descriptor document fetch (seconds).
	DescriptorTimeout int `yaml:"descriptor_timeout"`

	// MulticastTTL is the IP TTL for the outbound query. Default: 2
	MulticastTTL int `yaml:"multicast_ttl"`

	// Interface optionally pins the multicast query to one network interface.
	Interface string `yaml:"interface,omitempty"`

	// MaxConcurrentFetches limits parallel descriptor fetches.
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches"`
}

// DeviceConfig contains settings for the art-mode control connection.
type DeviceConfig struct {
	Port             int    `yaml:"port"`
	ClientName       string `yaml:"client_name"`
	ConnectTimeout   int    `yaml:"connect_timeout"`
	ReadTimeout      int    `yaml:"read_timeout"`
	ThumbnailRetries int    `yaml:"thumbnail_retries"`
	RetryDelayMS     int    `yaml:"retry_delay_ms"`
	ContentCategory  string `yaml:"content_category"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	TLS         TLSConfig        `yaml:"tls"`
	Timeouts    APITimeoutConfig `yaml:"timeouts"`
	CORS        CORSConfig       `yaml:"cors"`
	MaxUploadMB int              `yaml:"max_upload_mb"`
	StaticDir   string           `yaml:"static_dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FRAMEGATE_SECTION_KEY
// For example: FRAMEGATE_SETTINGS_PATH, FRAMEGATE_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults (plus environment
// overrides) when the file does not exist. FrameGate is usable without a
// config file on a home network.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	cfg = defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("validating config: %w", err)
	}
	return cfg, false, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Settings: SettingsConfig{
			Path: filepath.Join(xdg.DataHome, appDir, "tv_settings.json"),
		},
		ThumbnailCache: ThumbnailCacheConfig{
			Path:        filepath.Join(xdg.CacheHome, appDir, "thumbnails.db"),
			WALMode:     true,
			BusyTimeout: 5,
		},
		Discovery: DiscoveryConfig{
			Timeout:              3,
			SearchTarget:         "urn:samsung.com:device:RemoteControlReceiver:1",
			Vendor:               "samsung",
			DefaultName:          "Samsung TV",
			DescriptorTimeout:    2,
			MulticastTTL:         2,
			MaxConcurrentFetches: 4,
		},
		Device: DeviceConfig{
			Port:             8001,
			ClientName:       "FrameGate",
			ConnectTimeout:   5,
			ReadTimeout:      30,
			ThumbnailRetries: 2,
			RetryDelayMS:     500,
			ContentCategory:  "MY-C0002",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 120,
				Idle:  60,
			},
			MaxUploadMB: 50,
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "framegate",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "framegate",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FRAMEGATE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FRAMEGATE_SETTINGS_PATH"); v != "" {
		cfg.Settings.Path = v
	}
	if v := os.Getenv("FRAMEGATE_THUMBNAIL_CACHE_PATH"); v != "" {
		cfg.ThumbnailCache.Path = v
	}

	// API
	if v := os.Getenv("FRAMEGATE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FRAMEGATE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("FRAMEGATE_STATIC_DIR"); v != "" {
		cfg.API.StaticDir = v
	}

	// MQTT
	if v := os.Getenv("FRAMEGATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FRAMEGATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FRAMEGATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("FRAMEGATE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("FRAMEGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Settings.Path == "" {
		errs = append(errs, "settings.path is required")
	}
	if c.ThumbnailCache.Path == "" {
		errs = append(errs, "thumbnail_cache.path is required")
	}

	if c.Discovery.Timeout < 1 {
		errs = append(errs, "discovery.timeout must be at least 1 second")
	}
	if c.Discovery.SearchTarget == "" {
		errs = append(errs, "discovery.search_target is required")
	}
	if c.Discovery.Vendor == "" {
		errs = append(errs, "discovery.vendor is required")
	}

	if c.Device.Port < 1 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	if c.Device.ThumbnailRetries < 0 {
		errs = append(errs, "device.thumbnail_retries must not be negative")
	}
	if c.Device.RetryDelayMS < 0 {
		errs = append(errs, "device.retry_delay_ms must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// ScanTimeout returns the default discovery window as a Duration.
func (d DiscoveryConfig) ScanTimeout() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// RetryDelay returns the fixed delay between thumbnail fetch attempts.
func (d DeviceConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMS) * time.Millisecond
}

// GetConnectTimeout returns the TV connect timeout as a Duration.
func (d DeviceConfig) GetConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeout) * time.Second
}

// GetReadTimeout returns the per-reply TV read timeout as a Duration.
func (d DeviceConfig) GetReadTimeout() time.Duration {
	return time.Duration(d.ReadTimeout) * time.Second
}
