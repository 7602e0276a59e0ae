package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, read from a TOML file.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. ":8080".
	ListenAddr string `toml:"listen_addr"`
	// DataDir holds per-account credential stores, the app database and logs.
	DataDir string `toml:"data_dir"`
	// MediaDir is the root of the media store. Defaults to DataDir/media.
	MediaDir string `toml:"media_dir"`
	// DeviceName is shown on the phone's linked-devices list.
	DeviceName string `toml:"device_name"`
	// ResyncSpec is a cron expression for periodic chat/contact resync of
	// connected accounts. Empty disables the scheduler.
	ResyncSpec string `toml:"resync_spec"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".wappdesk")
	return &Config{
		ListenAddr: ":8080",
		DataDir:    base,
		MediaDir:   filepath.Join(base, "media"),
		DeviceName: "WappDesk",
		ResyncSpec: "",
	}
}

// Load reads config from path, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.MediaDir == "" {
		cfg.MediaDir = filepath.Join(cfg.DataDir, "media")
	}
	return cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// DBPath returns the app-owned database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "wappdesk.db")
}

// AccountDir returns the credential directory for an account.
func (c *Config) AccountDir(account string) string {
	return filepath.Join(c.DataDir, "accounts", account)
}

// CredentialDBPath returns the protocol client's credential store path
// for an account.
func (c *Config) CredentialDBPath(account string) string {
	return filepath.Join(c.AccountDir(account), "session.db")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "wappdeskd.log")
}
