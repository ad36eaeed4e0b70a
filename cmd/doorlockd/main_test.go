package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/config"
)

// writeConfig writes a gateway config with the given database path and
// broker port into a temp dir and points DOORLOCK_CONFIG at it.
func writeConfig(t *testing.T, dbPath, secret string, mqttPort int) {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")

	configContent := `
gateway:
  id: test-gateway

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

broker:
  kind: mqtt
  topic_prefix: doorlock

mqtt:
  broker:
    host: "127.0.0.1"
    port: ` + strconv.Itoa(mqttPort) + `
    client_id: "test-doorlockd"
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 5

influxdb:
  enabled: false

logging:
  level: info
  format: text
  output: discard

api:
  host: "127.0.0.1"
  port: 18080

security:
  jwt:
    secret: "` + secret + `"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("DOORLOCK_CONFIG", configPath)
}

const validSecret = "test-secret-key-at-least-32-characters-long"

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("DOORLOCK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_ShortJWTSecret(t *testing.T) {
	writeConfig(t, filepath.Join(t.TempDir(), "test.db"), "too-short", 1883)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "jwt.secret") {
		t.Fatalf("run() error = %v, want jwt secret validation error", err)
	}
}

func TestRun_EmptyDatabasePath(t *testing.T) {
	writeConfig(t, "", validSecret, 1883)

	if err := run(context.Background()); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// Port 19999 has no broker; run must fail after opening the database.
func TestRun_BrokerUnreachable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeConfig(t, dbPath, validSecret, 19999)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() succeeded without a broker")
	}
	if _, statErr := os.Stat(dbPath); statErr != nil {
		t.Errorf("database not created before broker connect: %v", statErr)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("DOORLOCK_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("DOORLOCK_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want override", got)
	}
}

func TestDispatchOptions(t *testing.T) {
	opts := dispatchOptions(config.DispatchConfig{
		CommandTimeout:        30,
		BrokerPresenceTTL:     120,
		PresenceSweepInterval: 15,
		LowBatteryThreshold:   25,
		SinkTimeout:           1500,
	})

	if opts.CommandTimeout != 30*time.Second {
		t.Errorf("CommandTimeout = %v, want 30s", opts.CommandTimeout)
	}
	if opts.BrokerPresenceTTL != 2*time.Minute {
		t.Errorf("BrokerPresenceTTL = %v, want 2m", opts.BrokerPresenceTTL)
	}
	if opts.PresenceSweepInterval != 15*time.Second {
		t.Errorf("PresenceSweepInterval = %v, want 15s", opts.PresenceSweepInterval)
	}
	if opts.LowBatteryThreshold != 25 {
		t.Errorf("LowBatteryThreshold = %v, want 25", opts.LowBatteryThreshold)
	}
	if opts.SinkTimeout != 1500*time.Millisecond {
		t.Errorf("SinkTimeout = %v, want 1.5s", opts.SinkTimeout)
	}
}
