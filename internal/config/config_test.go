package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:             "test",
			BMPListen:              ":4000",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "risotto.updates",
		},
		Snapshot: SnapshotConfig{
			Path:            "risotto.snapshot",
			IntervalSeconds: 60,
		},
		State: StateConfig{Enabled: true},
		Session: SessionConfig{
			IdleTimeoutSeconds: 90,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_NoBrokers(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Brokers = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty brokers")
	}
}

func TestValidate_NoTopic(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Topic = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty kafka topic")
	}
}

func TestValidate_NoBMPListen(t *testing.T) {
	cfg := validConfig()
	cfg.Service.BMPListen = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty bmp_listen")
	}
}

func TestValidate_ShutdownTimeoutZero(t *testing.T) {
	cfg := validConfig()
	cfg.Service.ShutdownTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for shutdown_timeout_seconds = 0")
	}
}

func TestValidate_SnapshotIntervalZero(t *testing.T) {
	cfg := validConfig()
	cfg.Snapshot.IntervalSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for snapshot.interval_seconds = 0")
	}
}

func TestValidate_SnapshotPathEmpty(t *testing.T) {
	cfg := validConfig()
	cfg.Snapshot.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty snapshot.path")
	}
}

func TestValidate_SessionIdleTimeoutZero(t *testing.T) {
	cfg := validConfig()
	cfg.Session.IdleTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for session.idle_timeout_seconds = 0")
	}
}

func writeMinimalYAML(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
kafka:
  brokers:
    - "localhost:9092"
  topic: "risotto.updates"
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeMinimalYAML(t)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.BMPListen != ":4000" {
		t.Errorf("expected default bmp_listen, got %q", cfg.Service.BMPListen)
	}
	if cfg.Snapshot.IntervalSeconds != 60 {
		t.Errorf("expected default snapshot interval, got %d", cfg.Snapshot.IntervalSeconds)
	}
}

func TestLoad_EnvOverrideLogLevel(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("RISOTTO_SERVICE__LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug' from env, got %q", cfg.Service.LogLevel)
	}
}

func TestLoad_EnvEmptyBrokersFailsValidation(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("RISOTTO_KAFKA__BROKERS", "")

	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error for empty brokers via env")
	}
}

func TestLoad_EnvCommaSeparatedBrokers(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("RISOTTO_KAFKA__BROKERS", "broker1:9092,broker2:9092")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("expected 2 brokers, got %d: %v", len(cfg.Kafka.Brokers), cfg.Kafka.Brokers)
	}
}
