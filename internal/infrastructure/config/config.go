package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker kinds supported for the device broker channel.
const (
	BrokerKindMQTT = "mqtt"
	BrokerKindNATS = "nats"
)

// Config is the root configuration structure for the door-lock gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Database  DatabaseConfig  `yaml:"database"`
	Broker    BrokerConfig    `yaml:"broker"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	NATS      NATSConfig      `yaml:"nats"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Session   SessionConfig   `yaml:"session"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
}

// GatewayConfig identifies this gateway process.
type GatewayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BrokerConfig selects the publish/subscribe transport used for the device
// broker channel.
type BrokerConfig struct {
	Kind        string `yaml:"kind"` // mqtt or nats
	TopicPrefix string `yaml:"topic_prefix"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
}

// NATSConfig contains NATS connection settings, used when broker.kind is "nats".
type NATSConfig struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	Token         string `yaml:"token"`
	MaxReconnects int    `yaml:"max_reconnects"`
	ReconnectWait int    `yaml:"reconnect_wait"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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

// WebSocketConfig contains settings for the dashboard WebSocket hub.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// SessionConfig contains settings for the device-facing session channel.
type SessionConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// InfluxDBConfig contains InfluxDB connection settings for heartbeat telemetry.
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// DispatchConfig tunes the command dispatch manager.
type DispatchConfig struct {
	// CommandTimeout is how long a dispatched command may wait for a
	// terminal acknowledgment (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	// BrokerPresenceTTL is how long a broker announcement keeps a device
	// reachable over the broker channel without further traffic (seconds).
	BrokerPresenceTTL int `yaml:"broker_presence_ttl"`

	// PresenceSweepInterval is how often stale broker presence is pruned (seconds).
	PresenceSweepInterval int `yaml:"presence_sweep_interval"`

	// LowBatteryThreshold is the battery percentage below which a one-shot
	// low_battery alert is raised.
	LowBatteryThreshold float64 `yaml:"low_battery_threshold"`

	// SinkTimeout bounds each call into the directory, audit and
	// notification collaborators (milliseconds).
	SinkTimeout int `yaml:"sink_timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DOORLOCK_SECTION_KEY
// For example: DOORLOCK_DATABASE_PATH, DOORLOCK_MQTT_HOST
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:   "gateway-001",
			Name: "Door Lock Gateway",
		},
		Database: DatabaseConfig{
			Path:        "./data/doorlock.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Broker: BrokerConfig{
			Kind:        BrokerKindMQTT,
			TopicPrefix: "doorlock",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "doorlock-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "doorlock-gateway",
			MaxReconnects: -1,
			ReconnectWait: 2,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Session: SessionConfig{
			Path:           "/device/ws",
			MaxMessageSize: 65536,
			PingInterval:   25,
			PongTimeout:    10,
			SendBuffer:     64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
		Dispatch: DispatchConfig{
			CommandTimeout:        30,
			BrokerPresenceTTL:     120,
			PresenceSweepInterval: 15,
			LowBatteryThreshold:   20,
			SinkTimeout:           2000,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DOORLOCK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOORLOCK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("DOORLOCK_BROKER_KIND"); v != "" {
		cfg.Broker.Kind = v
	}

	if v := os.Getenv("DOORLOCK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DOORLOCK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DOORLOCK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("DOORLOCK_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("DOORLOCK_NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}

	if v := os.Getenv("DOORLOCK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("DOORLOCK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("DOORLOCK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.Broker.Kind {
	case BrokerKindMQTT, BrokerKindNATS:
	default:
		errs = append(errs, "broker.kind must be mqtt or nats")
	}
	if c.Broker.TopicPrefix == "" {
		errs = append(errs, "broker.topic_prefix is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Dispatch.CommandTimeout <= 0 {
		errs = append(errs, "dispatch.command_timeout must be positive")
	}
	if c.Dispatch.BrokerPresenceTTL <= 0 {
		errs = append(errs, "dispatch.broker_presence_ttl must be positive")
	}
	if c.Dispatch.LowBatteryThreshold < 0 || c.Dispatch.LowBatteryThreshold > 100 {
		errs = append(errs, "dispatch.low_battery_threshold must be between 0 and 100")
	}

	// Operators unlock physical doors with these tokens.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set DOORLOCK_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
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

// GetCommandTimeout returns the command acknowledgment deadline.
func (d DispatchConfig) GetCommandTimeout() time.Duration {
	return time.Duration(d.CommandTimeout) * time.Second
}

// GetBrokerPresenceTTL returns how long broker presence stays valid.
func (d DispatchConfig) GetBrokerPresenceTTL() time.Duration {
	return time.Duration(d.BrokerPresenceTTL) * time.Second
}

// GetPresenceSweepInterval returns the broker presence sweep period.
func (d DispatchConfig) GetPresenceSweepInterval() time.Duration {
	return time.Duration(d.PresenceSweepInterval) * time.Second
}

// GetSinkTimeout returns the per-call collaborator timeout.
func (d DispatchConfig) GetSinkTimeout() time.Duration {
	return time.Duration(d.SinkTimeout) * time.Millisecond
}
