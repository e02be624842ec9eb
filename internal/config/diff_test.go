package config_test

import (
	"testing"
	"time"

	"github.com/dhkwon/voxbridge/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.SettingsTTLChanged || d.BusWindowChanged || d.RestartRequired {
		t.Errorf("identical configs reported changes: %+v", d)
	}
}

func TestDiff_LogLevelChange(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	old.Server.LogLevel = config.LogInfo
	updated := &config.Config{}
	updated.Server.LogLevel = config.LogDebug

	d := config.Diff(old, updated)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("unexpected diff %+v", d)
	}
	if d.RestartRequired {
		t.Error("log level is hot-reloadable, restart flagged")
	}
}

func TestDiff_TuningChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	updated := &config.Config{}
	updated.Settings.CacheTTL = time.Minute
	updated.Bus.DedupWindow = 2 * time.Second

	d := config.Diff(old, updated)
	if !d.SettingsTTLChanged || !d.BusWindowChanged {
		t.Errorf("tuning changes not flagged: %+v", d)
	}
	if d.RestartRequired {
		t.Error("tuning fields are hot-reloadable, restart flagged")
	}
}

func TestDiff_StorageChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	updated := &config.Config{}
	updated.Storage.Driver = config.DriverSQLite
	updated.Storage.Path = "/tmp/vox.db"

	if d := config.Diff(old, updated); !d.RestartRequired {
		t.Error("storage change did not flag a restart")
	}
}

func TestDiff_EngineChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	old.TTS.Engine = "espeak"
	updated := &config.Config{}
	updated.TTS.Engine = "none"

	if d := config.Diff(old, updated); !d.RestartRequired {
		t.Error("engine change did not flag a restart")
	}
}
