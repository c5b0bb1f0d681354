package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix for environment overrides.
const EnvPrefix = "COMPLYLEDGER_"

// Load reads path over the defaults and applies environment overrides. An
// empty path reads DefaultPath when it exists and defaults otherwise.
func Load(path string) (*Config, error) {
	c := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, c); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := ApplyEnv(c, os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

func decode(data []byte, c *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config unmarshal: %w", err)
	}
	return nil
}

// ApplyEnv overrides c from COMPLYLEDGER_* variables. lookup is os.LookupEnv
// outside tests.
func ApplyEnv(c *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_OUTPUT", &c.Log.Output)

	boolean("OTEL", &c.OTel.Enabled)
	str("OTEL_ENDPOINT", &c.OTel.Endpoint)
	str("OTEL_PROTOCOL", &c.OTel.Protocol)
	boolean("OTEL_INSECURE", &c.OTel.Insecure)
	str("OTEL_SERVICE_NAME", &c.OTel.ServiceName)
	if v, ok := lookup(EnvPrefix + "OTEL_SAMPLE_RATIO"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sOTEL_SAMPLE_RATIO: %w", EnvPrefix, err))
		} else {
			c.OTel.SampleRatio = f
		}
	}

	str("AUDIT_STORE", &c.Audit.Store)
	str("AUDIT_DSN", &c.Audit.DSN)
	str("CHECKPOINT_OUTPUT", &c.Audit.CheckpointOutput)
	if v, ok := lookup(EnvPrefix + "CHECKPOINT_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCHECKPOINT_INTERVAL: %w", EnvPrefix, err))
		} else {
			c.Audit.CheckpointInterval = d
		}
	}

	str("PRIVATE_KEY", &c.Keys.Private)
	str("PUBLIC_KEY", &c.Keys.Public)

	str("REDIS_ADDR", &c.Registry.RedisAddr)
	str("REDIS_PASSWORD", &c.Registry.RedisPassword)
	boolean("OCI_INSECURE", &c.Registry.OCIInsecure)

	str("RECEIPT", &c.Receipt.Path)
	str("RECEIPT_MODE", &c.Receipt.Mode)

	return errors.Join(errs...)
}
