// Package config provides the configuration schema, loader, registry, and
// file watcher for the voxbridge daemon.
package config

import "time"

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Driver selects a storage backend implementation.
type Driver string

const (
	// DriverMemory keeps data in process memory. Lost on restart.
	DriverMemory Driver = "memory"

	// DriverFile persists to a watched JSON document.
	DriverFile Driver = "file"

	// DriverSQLite persists to an embedded SQLite database.
	DriverSQLite Driver = "sqlite"
)

// IsValid reports whether d is a recognised storage driver.
func (d Driver) IsValid() bool {
	switch d {
	case DriverMemory, DriverFile, DriverSQLite:
		return true
	}
	return false
}

// Config is the root configuration structure for voxbridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Settings SettingsConfig `yaml:"settings"`
	Bus      BusConfig      `yaml:"bus"`
	TTS      TTSConfig      `yaml:"tts"`
	Probe    ProbeConfig    `yaml:"probe"`
}

// ServerConfig holds network and logging settings for the daemon's
// metrics and health endpoint.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP endpoint listens on
	// (e.g., ":8080"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// StorageConfig selects the backing stores. The sync store holds user
// settings; the local store holds playback hand-off records.
type StorageConfig struct {
	// Driver selects the sync-store backend. Default "memory".
	Driver Driver `yaml:"driver"`

	// Path is the data location: a JSON file for the file driver, a
	// database file for sqlite. Ignored by the memory driver.
	Path string `yaml:"path"`

	// LocalDriver and LocalPath configure the local store. When empty the
	// local store uses the memory driver.
	LocalDriver Driver `yaml:"local_driver"`
	LocalPath   string `yaml:"local_path"`
}

// SettingsConfig tunes the settings store.
type SettingsConfig struct {
	// CacheTTL is the settings read-cache lifetime, clamped into
	// [10s, 5m] by the store. Zero selects the default of 30s.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// BusConfig tunes the message bus.
type BusConfig struct {
	// DedupWindow is the duplicate-suppression window, clamped into
	// [100ms, 5s] by the bus. Zero selects the default of 1s.
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// TTSConfig selects the speech engine and tunes the playback controller.
type TTSConfig struct {
	// Engine selects a registered speech engine (e.g., "espeak").
	// Empty or "none" runs without speech output; play requests then
	// fall back to text display.
	Engine string `yaml:"engine"`

	// MaxRetries is the maximum number of playback attempts, in [1, 10].
	// Zero selects the default of 3.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the initial backoff between attempts, in
	// [100ms, 5s]. Zero selects the default of 1s.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// PoolSize bounds the utterance free list, in [1, 20]. Zero selects
	// the default of 5.
	PoolSize int `yaml:"pool_size"`

	// TextCacheSize bounds the short-text option cache, in [10, 200].
	// Zero selects the default of 50.
	TextCacheSize int `yaml:"text_cache_size"`

	// VoicesTTL bounds the voice inventory cache, in [1m, 30m]. Zero
	// selects the default of 5m.
	VoicesTTL time.Duration `yaml:"voices_ttl"`
}

// ProbeConfig tunes the voice-activity probes.
type ProbeConfig struct {
	// Enabled turns the probe subsystem on. Default false.
	Enabled bool `yaml:"enabled"`
}
