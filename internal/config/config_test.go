package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080, ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second},
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, User: "arena", Password: "arena", Name: "arena",
			SSLMode: "disable", MaxConns: 10, MinConns: 2, MaxConnLifetime: time.Hour,
		},
		Chain:     ChainConfig{OracleURL: "http://127.0.0.1:9650/ext/effects", RequestTimeout: 5 * time.Second},
		Signature: SignatureConfig{RouterKey: "a2V5", Window: 30 * time.Second},
		Heartbeat: HeartbeatConfig{Interval: 30 * time.Second, Timeout: 10 * time.Second, ReconcileInterval: 5 * time.Minute},
		Delivery:  DeliveryConfig{Workers: 8, QueueSize: 256, RequestTimeout: 10 * time.Second},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Database.Host = ""
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "database.host")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_HeartbeatTimeoutMustBeShorterThanInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Heartbeat.Timeout = cfg.Heartbeat.Interval

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat.timeout")
}

func TestValidate_SignatureWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Signature.Window = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature.window")
}

func TestValidate_DeliveryPool(t *testing.T) {
	cfg := validConfig()
	cfg.Delivery.Workers = 0
	cfg.Delivery.QueueSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery.workers")
	assert.Contains(t, err.Error(), "delivery.queue_size")
}

func TestValidate_MinConnsExceedsMaxConns(t *testing.T) {
	cfg := validConfig()
	cfg.Database.MinConns = 20
	cfg.Database.MaxConns = 10

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_conns")
}

func TestAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 9000}
	assert.Equal(t, "127.0.0.1:9000", s.Addr())
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db.example.com", Port: 5433, User: "u", Password: "p", Name: "arena", SSLMode: "require",
	}
	assert.Equal(t, "postgres://u:p@db.example.com:5433/arena?sslmode=require", d.DSN())
}

func TestLoad_FileWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
signature:
  router_key: "a2V5"
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Explicit values win, everything else falls back to defaults.
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Signature.Window)
	assert.Equal(t, 8, cfg.Delivery.Workers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
signature:
  router_key: "a2V5"
server:
  port: 99999
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestLoadFromViper_Nil(t *testing.T) {
	_, err := LoadFromViper(nil)
	assert.Error(t, err)
}

func TestLoadFromViper(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("signature.router_key", "a2V5")

	cfg, err := LoadFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "a2V5", cfg.Signature.RouterKey)
}

func TestPropertyPortValidation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(-1000, 70000).Draw(t, "port")
		cfg := validConfig()
		cfg.Server.Port = port

		err := cfg.Validate()
		if port >= 1 && port <= 65535 {
			if err != nil {
				t.Fatalf("port %d should be valid: %v", port, err)
			}
		} else if err == nil {
			t.Fatalf("port %d should be invalid", port)
		}
	})
}
