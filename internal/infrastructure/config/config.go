package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when neither --config nor
// ELOCK_CONFIG is set. A missing file at this path is not an error.
const DefaultPath = "configs/config.yaml"

// Event channel transports.
const (
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

// User lookup strategies for sharing access.
const (
	UserLookupAuto   = "auto"
	UserLookupServer = "server"
	UserLookupScan   = "scan"
)

// Config is the root configuration structure for the elock client.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Channel ChannelConfig `yaml:"channel"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig contains request/response backend settings.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	// Timeout is the per-request timeout in seconds. 0 uses the transport default.
	Timeout int `yaml:"timeout"`
	// UserLookup selects how an e-mail address is resolved to a user:
	// "server" (indexed endpoint), "scan" (list all users) or "auto" (server, then scan).
	UserLookup string `yaml:"user_lookup"`
}

// ChannelConfig contains push event channel settings.
type ChannelConfig struct {
	Transport      string                 `yaml:"transport"`
	URL            string                 `yaml:"url"`
	Path           string                 `yaml:"path"`
	MaxMessageSize int                    `yaml:"max_message_size"`
	PingInterval   int                    `yaml:"ping_interval"`
	PongTimeout    int                    `yaml:"pong_timeout"`
	Reconnect      ChannelReconnectConfig `yaml:"reconnect"`
}

// Reconnect defaults, used for zero values.
const (
	DefaultReconnectInitialDelay = 1  // seconds
	DefaultReconnectMaxDelay     = 30 // seconds
	DefaultReconnectMaxAttempts  = 5
)

// ChannelReconnectConfig contains bounded reconnection settings.
// Zero values fall back to the Default* constants through the getters.
type ChannelReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MQTTConfig contains MQTT broker settings for the brokered event channel.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	QoS    int              `yaml:"qos"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
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
// Environment variables follow the pattern: ELOCK_SECTION_KEY
// For example: ELOCK_API_BASE_URL, ELOCK_CHANNEL_TRANSPORT
//
// A missing file is only tolerated for DefaultPath, so a client can run
// with defaults and environment alone.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		// defaults only
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    "http://localhost:8000",
			Timeout:    15,
			UserLookup: UserLookupAuto,
		},
		Channel: ChannelConfig{
			Transport:      TransportWebSocket,
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   25,
			PongTimeout:    10,
			Reconnect: ChannelReconnectConfig{
				InitialDelay: DefaultReconnectInitialDelay,
				MaxDelay:     DefaultReconnectMaxDelay,
				MaxAttempts:  DefaultReconnectMaxAttempts,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "elock-client",
			},
			QoS: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ELOCK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("ELOCK_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("ELOCK_API_USER_LOOKUP"); v != "" {
		cfg.API.UserLookup = v
	}

	// Channel
	if v := os.Getenv("ELOCK_CHANNEL_TRANSPORT"); v != "" {
		cfg.Channel.Transport = v
	}
	if v := os.Getenv("ELOCK_CHANNEL_URL"); v != "" {
		cfg.Channel.URL = v
	}
	if v := os.Getenv("ELOCK_CHANNEL_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Channel.Reconnect.MaxAttempts = n
		}
	}

	// MQTT
	if v := os.Getenv("ELOCK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}

	// Logging
	if v := os.Getenv("ELOCK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	} else if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		errs = append(errs, "api.base_url must start with http:// or https://")
	}
	if c.API.Timeout < 0 {
		errs = append(errs, "api.timeout must not be negative")
	}
	switch c.API.UserLookup {
	case UserLookupAuto, UserLookupServer, UserLookupScan:
	default:
		errs = append(errs, "api.user_lookup must be auto, server, or scan")
	}

	switch c.Channel.Transport {
	case TransportWebSocket, TransportMQTT:
	default:
		errs = append(errs, "channel.transport must be websocket or mqtt")
	}
	if c.Channel.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "channel.reconnect.max_attempts must not be negative")
	}
	if c.Channel.Reconnect.InitialDelay < 0 || c.Channel.Reconnect.MaxDelay < c.Channel.Reconnect.InitialDelay {
		errs = append(errs, "channel.reconnect delays must satisfy 0 <= initial_delay <= max_delay")
	}

	if c.Channel.Transport == TransportMQTT {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required for the mqtt transport")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRequestTimeout returns the API request timeout as a Duration.
func (c APIConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// ChannelURL returns the push channel endpoint. When channel.url is unset it
// is derived from api.base_url by swapping the scheme and appending channel.path.
func (c *Config) ChannelURL() string {
	if c.Channel.URL != "" {
		return c.Channel.URL
	}
	base := strings.TrimRight(c.API.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.Channel.Path
}

// GetPingInterval returns the keepalive ping interval as a Duration.
func (c ChannelConfig) GetPingInterval() time.Duration {
	return time.Duration(c.PingInterval) * time.Second
}

// GetPongTimeout returns the time allowed for a pong as a Duration.
func (c ChannelConfig) GetPongTimeout() time.Duration {
	return time.Duration(c.PongTimeout) * time.Second
}

// GetInitialDelay returns the first reconnect backoff as a Duration.
func (c ChannelReconnectConfig) GetInitialDelay() time.Duration {
	if c.InitialDelay <= 0 {
		return DefaultReconnectInitialDelay * time.Second
	}
	return time.Duration(c.InitialDelay) * time.Second
}

// GetMaxDelay returns the reconnect backoff ceiling as a Duration.
func (c ChannelReconnectConfig) GetMaxDelay() time.Duration {
	if c.MaxDelay <= 0 {
		return DefaultReconnectMaxDelay * time.Second
	}
	return time.Duration(c.MaxDelay) * time.Second
}

// GetMaxAttempts returns how many reconnects are tried before giving up.
func (c ChannelReconnectConfig) GetMaxAttempts() int {
	if c.MaxAttempts <= 0 {
		return DefaultReconnectMaxAttempts
	}
	return c.MaxAttempts
}
