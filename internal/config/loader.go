package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Storage.Driver != "" && !cfg.Storage.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: memory, file, sqlite", cfg.Storage.Driver))
	}
	if cfg.Storage.LocalDriver != "" && !cfg.Storage.LocalDriver.IsValid() {
		errs = append(errs, fmt.Errorf("storage.local_driver %q is invalid; valid values: memory, file, sqlite", cfg.Storage.LocalDriver))
	}
	if needsPath(cfg.Storage.Driver) && cfg.Storage.Path == "" {
		errs = append(errs, fmt.Errorf("storage.path is required when storage.driver is %q", cfg.Storage.Driver))
	}
	if needsPath(cfg.Storage.LocalDriver) && cfg.Storage.LocalPath == "" {
		errs = append(errs, fmt.Errorf("storage.local_path is required when storage.local_driver is %q", cfg.Storage.LocalDriver))
	}

	if cfg.Settings.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("settings.cache_ttl %v must not be negative", cfg.Settings.CacheTTL))
	}
	if cfg.Bus.DedupWindow < 0 {
		errs = append(errs, fmt.Errorf("bus.dedup_window %v must not be negative", cfg.Bus.DedupWindow))
	}

	if cfg.TTS.MaxRetries < 0 || cfg.TTS.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("tts.max_retries %d is out of range [0, 10]", cfg.TTS.MaxRetries))
	}
	if cfg.TTS.RetryDelay < 0 || cfg.TTS.RetryDelay > 5*time.Second {
		errs = append(errs, fmt.Errorf("tts.retry_delay %v is out of range [0, 5s]", cfg.TTS.RetryDelay))
	}
	if cfg.TTS.PoolSize < 0 || cfg.TTS.PoolSize > 20 {
		errs = append(errs, fmt.Errorf("tts.pool_size %d is out of range [0, 20]", cfg.TTS.PoolSize))
	}
	if cfg.TTS.TextCacheSize < 0 || cfg.TTS.TextCacheSize > 200 {
		errs = append(errs, fmt.Errorf("tts.text_cache_size %d is out of range [0, 200]", cfg.TTS.TextCacheSize))
	}
	if cfg.TTS.VoicesTTL < 0 || cfg.TTS.VoicesTTL > 30*time.Minute {
		errs = append(errs, fmt.Errorf("tts.voices_ttl %v is out of range [0, 30m]", cfg.TTS.VoicesTTL))
	}

	return errors.Join(errs...)
}

// needsPath reports whether the driver persists to a configured path.
func needsPath(d Driver) bool {
	return d == DriverFile || d == DriverSQLite
}
