package config

import (
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.DataDir == "" || cfg.MediaDir == "" {
		t.Error("data and media dirs must have defaults")
	}
	if cfg.DeviceName == "" {
		t.Error("device name must have a default")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.ListenAddr = "127.0.0.1:9999"
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.MediaDir = ""
	cfg.ResyncSpec = "@every 1h"

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("listen addr = %q", loaded.ListenAddr)
	}
	if loaded.ResyncSpec != "@every 1h" {
		t.Errorf("resync spec = %q", loaded.ResyncSpec)
	}
	// Empty media dir falls back to DataDir/media.
	want := filepath.Join(cfg.DataDir, "media")
	if loaded.MediaDir != want {
		t.Errorf("media dir = %q, want %q", loaded.MediaDir, want)
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/wd"}
	if got := cfg.DBPath(); got != filepath.Join("/tmp/wd", "wappdesk.db") {
		t.Errorf("DBPath = %q", got)
	}
	if got := cfg.CredentialDBPath("+551199"); got != filepath.Join("/tmp/wd", "accounts", "+551199", "session.db") {
		t.Errorf("CredentialDBPath = %q", got)
	}
	if got := cfg.LogPath(); got != filepath.Join("/tmp/wd", "logs", "wappdeskd.log") {
		t.Errorf("LogPath = %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}
