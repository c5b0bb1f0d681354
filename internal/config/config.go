// Package config loads complyledger.yaml with COMPLYLEDGER_* environment
// overrides. Command-line flags override both and are applied by the CLI.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/complyledger/complyledger/internal/observability/logging"
	otelobs "github.com/complyledger/complyledger/internal/observability/otel"
	"github.com/complyledger/complyledger/internal/observability/receipt"
)

// DefaultPath is read when no --config is given and the file exists.
const DefaultPath = "complyledger.yaml"

// Config root
type Config struct {
	Log      LogConfig      `yaml:"log"`
	OTel     OTelConfig     `yaml:"otel"`
	Audit    AuditConfig    `yaml:"audit"`
	Keys     KeysConfig     `yaml:"keys"`
	Registry RegistryConfig `yaml:"registry"`
	Receipt  ReceiptConfig  `yaml:"receipt"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Protocol    string  `yaml:"protocol"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// AuditConfig selects the leaf store. Store is memory, sqlite or postgres.
type AuditConfig struct {
	Store              string        `yaml:"store"`
	DSN                string        `yaml:"dsn"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	CheckpointOutput   string        `yaml:"checkpoint_output"`
}

type KeysConfig struct {
	Private string `yaml:"private"`
	Public  string `yaml:"public"`
}

// RegistryConfig points at Redis; an empty address keeps the registry in memory.
type RegistryConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	OCIInsecure   bool   `yaml:"oci_insecure"`
}

type ReceiptConfig struct {
	Path string `yaml:"path"`
	Mode string `yaml:"mode"`
}

// Default mirrors the logging and tracing package defaults.
func Default() *Config {
	lc := logging.DefaultConfig()
	oc := otelobs.DefaultConfig()
	return &Config{
		Log: LogConfig{Format: lc.Format, Level: lc.Level, Output: lc.Output},
		OTel: OTelConfig{
			Enabled:     oc.Enabled,
			Endpoint:    oc.Endpoint,
			Protocol:    oc.Protocol,
			Insecure:    oc.Insecure,
			ServiceName: oc.ServiceName,
			SampleRatio: oc.SampleRatio,
		},
		Audit: AuditConfig{
			Store:              "sqlite",
			DSN:                "complyledger-audit.db",
			CheckpointInterval: 30 * time.Second,
		},
		Keys: KeysConfig{
			Private: "private.key",
			Public:  "public.key",
		},
		Receipt: ReceiptConfig{Mode: string(receipt.ModeOverwrite)},
	}
}

// Logging converts to the logging package's config.
func (c *Config) Logging() logging.Config {
	return logging.Config{Format: c.Log.Format, Level: c.Log.Level, Output: c.Log.Output}
}

// Tracing converts to the otel package's config.
func (c *Config) Tracing() otelobs.Config {
	return otelobs.Config{
		Enabled:     c.OTel.Enabled,
		Endpoint:    c.OTel.Endpoint,
		Protocol:    c.OTel.Protocol,
		Insecure:    c.OTel.Insecure,
		ServiceName: c.OTel.ServiceName,
		SampleRatio: c.OTel.SampleRatio,
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if !logging.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format %q must be pretty, text or jsonl", c.Log.Format))
	}
	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	if err := c.Tracing().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Audit.Store {
	case "memory":
	case "sqlite", "postgres":
		if c.Audit.DSN == "" {
			errs = append(errs, fmt.Errorf("audit.dsn is required for the %s store", c.Audit.Store))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.store %q must be memory, sqlite or postgres", c.Audit.Store))
	}
	if c.Audit.CheckpointInterval < 0 {
		errs = append(errs, fmt.Errorf("audit.checkpoint_interval must not be negative"))
	}
	if _, err := receipt.ParseMode(c.Receipt.Mode); err != nil {
		errs = append(errs, fmt.Errorf("receipt.mode: %w", err))
	}
	return errors.Join(errs...)
}
