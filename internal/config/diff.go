package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SettingsTTLChanged and BusWindowChanged flag tuning fields the app
	// applies without restart.
	SettingsTTLChanged bool
	BusWindowChanged   bool

	// RestartRequired flags changes to storage or engine selection, which
	// only take effect on the next start.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Settings.CacheTTL != new.Settings.CacheTTL {
		d.SettingsTTLChanged = true
	}
	if old.Bus.DedupWindow != new.Bus.DedupWindow {
		d.BusWindowChanged = true
	}
	if old.Storage != new.Storage || old.TTS.Engine != new.TTS.Engine {
		d.RestartRequired = true
	}

	return d
}
