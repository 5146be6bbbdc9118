// Package config loads Risotto's layered configuration: defaults,
// overlaid by an optional YAML file, overlaid by environment
// variables (spec.md §6, "the process CLI and configuration loader").
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

// Config is Risotto's full configuration tree.
type Config struct {
	Service  ServiceConfig         `koanf:"service"`
	Kafka    KafkaConfig           `koanf:"kafka"`
	Snapshot SnapshotConfig        `koanf:"snapshot"`
	State    StateConfig           `koanf:"state"`
	Session  SessionConfig         `koanf:"session"`
	Routers  map[string]RouterMeta `koanf:"routers"`
}

// RouterMeta attaches a human-friendly name and location to a router
// identified by its IP address, for display in the HTTP introspection
// view (spec.md §7 supplemented feature).
type RouterMeta struct {
	Name     string `koanf:"name"`
	Location string `koanf:"location"`
}

// ServiceConfig covers process-wide concerns: identity, listen
// addresses, logging and shutdown behavior.
type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	BMPListen              string `koanf:"bmp_listen"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

// KafkaConfig configures the broker sink.
type KafkaConfig struct {
	Brokers          []string   `koanf:"brokers"`
	ClientID         string     `koanf:"client_id"`
	Topic            string     `koanf:"topic"`
	TLS              TLSConfig  `koanf:"tls"`
	SASL             SASLConfig `koanf:"sasl"`
	CompressionCodec string     `koanf:"compression_codec"`
}

// TLSConfig controls the broker connection's transport security.
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

// SASLConfig controls the broker connection's SASL authentication.
type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

// SnapshotConfig controls the periodic collector-state persistence
// engine (C5).
type SnapshotConfig struct {
	Path            string `koanf:"path"`
	IntervalSeconds int    `koanf:"interval_seconds"`
}

// StateConfig toggles the collector's dedup/synthetic-withdraw
// bookkeeping (spec.md §4.3, "when state management is disabled").
type StateConfig struct {
	Enabled bool `koanf:"enabled"`
}

// SessionConfig controls per-connection behavior in the session
// handler (C2).
type SessionConfig struct {
	IdleTimeoutSeconds int `koanf:"idle_timeout_seconds"`
}

const envPrefix = "RISOTTO_"

// Load builds a Config from defaults, an optional YAML file at path,
// then environment variable overrides of the form
// RISOTTO_KAFKA__BROKERS → kafka.brokers.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "risotto-1",
			BMPListen:              ":4000",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Kafka: KafkaConfig{
			ClientID:         "risotto",
			Topic:            "risotto.updates",
			CompressionCodec: "zstd",
		},
		Snapshot: SnapshotConfig{
			Path:            "risotto.snapshot",
			IntervalSeconds: 60,
		},
		State: StateConfig{
			Enabled: true,
		},
		Session: SessionConfig{
			IdleTimeoutSeconds: 90,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required")
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("config: kafka.topic is required")
	}
	if c.Service.BMPListen == "" {
		return fmt.Errorf("config: service.bmp_listen is required")
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if c.Snapshot.IntervalSeconds <= 0 {
		return fmt.Errorf("config: snapshot.interval_seconds must be > 0 (got %d)", c.Snapshot.IntervalSeconds)
	}
	if c.Snapshot.Path == "" {
		return fmt.Errorf("config: snapshot.path is required")
	}
	if c.Session.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("config: session.idle_timeout_seconds must be > 0 (got %d)", c.Session.IdleTimeoutSeconds)
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings.
// Returns nil if TLS is disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL
// settings. Returns nil if SASL is disabled.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
