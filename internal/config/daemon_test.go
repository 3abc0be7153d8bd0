package config_test

import (
	"testing"
	"time"

	"github.com/leonletto/grit/internal/config"
)

func TestDaemonSettings_SyncIntervalDefault(t *testing.T) {
	var d config.DaemonSettings
	if got := d.SyncInterval(); got != config.DefaultSyncInterval {
		t.Errorf("SyncInterval() = %v, want default %v", got, config.DefaultSyncInterval)
	}
}

func TestDaemonSettings_SyncIntervalConfigured(t *testing.T) {
	d := config.DaemonSettings{SyncIntervalSeconds: 45}
	if got, want := d.SyncInterval(), 45*time.Second; got != want {
		t.Errorf("SyncInterval() = %v, want %v", got, want)
	}
}

func TestRepoConfig_RoundTripsDaemonSettings(t *testing.T) {
	gritDir := t.TempDir()
	cfg := &config.RepoConfig{
		DefaultActor: "deadbeefdeadbeefdeadbeefdeadbeef",
		Daemon:       config.DaemonSettings{SyncIntervalSeconds: 60, LocalOnly: true},
	}
	if err := config.SaveRepoConfig(gritDir, cfg); err != nil {
		t.Fatalf("SaveRepoConfig: %v", err)
	}

	loaded, err := config.LoadRepoConfig(gritDir)
	if err != nil {
		t.Fatalf("LoadRepoConfig: %v", err)
	}
	if loaded.Daemon.SyncIntervalSeconds != 60 {
		t.Errorf("SyncIntervalSeconds = %d, want 60", loaded.Daemon.SyncIntervalSeconds)
	}
	if !loaded.Daemon.LocalOnly {
		t.Error("expected LocalOnly=true after round trip")
	}
}
