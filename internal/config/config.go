// Package config provides Viper-based configuration loading for the arena server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is the per-request read timeout.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-request write timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// ChainConfig holds status-effect oracle connection settings.
type ChainConfig struct {
	// OracleURL is the base URL of the status-effect oracle endpoint.
	OracleURL string `mapstructure:"oracle_url"`
	// RequestTimeout bounds each oracle call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SignatureConfig holds message signing and verification settings.
type SignatureConfig struct {
	// RouterKey is the base64-encoded Ed25519 private key used to re-sign
	// outbound deliveries.
	RouterKey string `mapstructure:"router_key"`
	// Window is the maximum age of a signed message timestamp.
	Window time.Duration `mapstructure:"window"`
	// AgentKeys maps sender ids to base64-encoded Ed25519 public keys
	// accepted for inbound messages.
	AgentKeys map[string]string `mapstructure:"agent_keys"`
}

// HeartbeatConfig holds connection-registry heartbeat settings.
type HeartbeatConfig struct {
	// Interval is the period between pings to every live connection.
	Interval time.Duration `mapstructure:"interval"`
	// Timeout is how long a connection has to answer a ping before it is
	// force-closed. Must be shorter than Interval.
	Timeout time.Duration `mapstructure:"timeout"`
	// ReconcileInterval is the period between participant-count
	// reconciliation sweeps.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// DeliveryConfig holds agent delivery worker-pool settings.
type DeliveryConfig struct {
	// Workers is the number of concurrent delivery workers.
	Workers int `mapstructure:"workers"`
	// QueueSize is the bounded delivery queue capacity.
	QueueSize int `mapstructure:"queue_size"`
	// RequestTimeout bounds each outbound HTTP delivery.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Signature SignatureConfig `mapstructure:"signature"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateChain(c.Chain); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSignature(c.Signature); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateHeartbeat(c.Heartbeat); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDelivery(c.Delivery); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout must not be negative")
	}
	if s.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateChain(c ChainConfig) error {
	var errs []string
	if c.OracleURL == "" {
		errs = append(errs, "chain.oracle_url must not be empty")
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, "chain.request_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSignature(s SignatureConfig) error {
	var errs []string
	if s.RouterKey == "" {
		errs = append(errs, "signature.router_key must not be empty")
	}
	if s.Window <= 0 {
		errs = append(errs, "signature.window must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateHeartbeat(h HeartbeatConfig) error {
	var errs []string
	if h.Interval <= 0 {
		errs = append(errs, "heartbeat.interval must be positive")
	}
	if h.Timeout <= 0 {
		errs = append(errs, "heartbeat.timeout must be positive")
	}
	if h.Timeout >= h.Interval {
		errs = append(errs, "heartbeat.timeout must be shorter than heartbeat.interval")
	}
	if h.ReconcileInterval <= 0 {
		errs = append(errs, "heartbeat.reconcile_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDelivery(d DeliveryConfig) error {
	var errs []string
	if d.Workers < 1 {
		errs = append(errs, fmt.Sprintf("delivery.workers must be >= 1, got %d", d.Workers))
	}
	if d.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("delivery.queue_size must be >= 1, got %d", d.QueueSize))
	}
	if d.RequestTimeout <= 0 {
		errs = append(errs, "delivery.request_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with ARENA_ prefix
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("viper instance must not be nil")
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arena")
	v.SetDefault("database.password", "arena")
	v.SetDefault("database.name", "arena")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("chain.oracle_url", "http://127.0.0.1:9650/ext/effects")
	v.SetDefault("chain.request_timeout", "5s")

	v.SetDefault("signature.window", "30s")

	v.SetDefault("heartbeat.interval", "30s")
	v.SetDefault("heartbeat.timeout", "10s")
	v.SetDefault("heartbeat.reconcile_interval", "5m")

	v.SetDefault("delivery.workers", 8)
	v.SetDefault("delivery.queue_size", 256)
	v.SetDefault("delivery.request_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
