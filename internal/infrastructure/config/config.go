// Package config loads the application configuration.
//
// Values are layered: compiled-in defaults, then the YAML file, then
// VERDANT_* environment variables. Validation runs after layering, so a
// value may arrive from any layer — in particular the JWT secret, which
// has no default and in production should come from the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root of config.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// MQTTConfig configures the optional broker mirror of the measurement
// fan-out. Credentials are blank for anonymous brokers.
type MQTTConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	TLS       bool            `yaml:"tls"`
	ClientID  string          `yaml:"client_id"`
	Username  string          `yaml:"username"`
	Password  string          `yaml:"password"`
	QoS       int             `yaml:"qos"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig shapes the broker reconnect backoff, in seconds.
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"` // 0 = unlimited
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host     string         `yaml:"host"`
	Port     int            `yaml:"port"`
	TLS      TLSConfig      `yaml:"tls"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	CORS     CORSConfig     `yaml:"cors"`
}

// TLSConfig points at the certificate pair; plain HTTP when disabled.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TimeoutsConfig holds HTTP server timeouts, in seconds.
type TimeoutsConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists what cross-origin callers may send. Empty lists mean
// permissive defaults, suitable for development only.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig configures the measurement channel endpoint.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"` // bytes
	PingInterval   int    `yaml:"ping_interval"`    // seconds
	PongTimeout    int    `yaml:"pong_timeout"`     // seconds
}

// InfluxDBConfig configures the optional measurement telemetry sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig holds token signing settings. TTLs are in minutes. Kit
// (device) tokens outlive person tokens since kits authenticate
// unattended.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	KitTokenTTL     int    `yaml:"kit_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
}

// Load reads the YAML file at path over the defaults, applies VERDANT_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	overrideFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	var cfg Config
	cfg.Database = DatabaseConfig{Path: "./data/verdant.db", WALMode: true, BusyTimeout: 5}
	cfg.MQTT = MQTTConfig{
		Host:      "localhost",
		Port:      1883,
		ClientID:  "verdant-core",
		QoS:       1,
		Reconnect: ReconnectConfig{InitialDelay: 1, MaxDelay: 60},
	}
	cfg.API = APIConfig{Host: "0.0.0.0", Port: 8080, Timeouts: TimeoutsConfig{Read: 30, Write: 30, Idle: 60}}
	cfg.WebSocket = WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	cfg.Logging = LoggingConfig{Level: "info", Format: "json", Output: "stdout"}
	cfg.Security.JWT = JWTConfig{AccessTokenTTL: 15, KitTokenTTL: 1440, RefreshTokenTTL: 10080}
	return &cfg
}

// overrideFromEnv layers VERDANT_SECTION_KEY environment variables over
// the file. Only settings that are secrets or vary per deployment are
// overridable.
func overrideFromEnv(cfg *Config) {
	set := func(target *string, envVar string) {
		if v := os.Getenv(envVar); v != "" {
			*target = v
		}
	}

	set(&cfg.Database.Path, "VERDANT_DATABASE_PATH")
	set(&cfg.MQTT.Host, "VERDANT_MQTT_HOST")
	set(&cfg.MQTT.Username, "VERDANT_MQTT_USERNAME")
	set(&cfg.MQTT.Password, "VERDANT_MQTT_PASSWORD")
	set(&cfg.API.Host, "VERDANT_API_HOST")
	set(&cfg.InfluxDB.Token, "VERDANT_INFLUXDB_TOKEN")
	set(&cfg.Security.JWT.Secret, "VERDANT_JWT_SECRET")
}

// minJWTSecretLength guards against trivially brute-forceable HMAC keys.
// A forged kit token would let an attacker publish measurements as any
// registered kit.
const minJWTSecretLength = 32

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.Path == "" {
		problems = append(problems, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		problems = append(problems, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		problems = append(problems, "api.port must be between 1 and 65535")
	}

	switch {
	case c.Security.JWT.Secret == "":
		problems = append(problems, "security.jwt.secret is required (set VERDANT_JWT_SECRET)")
	case len(c.Security.JWT.Secret) < minJWTSecretLength:
		problems = append(problems, fmt.Sprintf("security.jwt.secret must be at least %d characters", minJWTSecretLength))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(problems, "; "))
	}
	return nil
}
