package am

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/teranos/remit/errors"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		fmt.Printf("⚠️  Failed to delete old backup %s: %v\n", back3, err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, 0600); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// DefaultConfig returns a Config populated entirely from SetDefaults
func DefaultConfig() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	return LoadWithViper(v)
}

// WriteConfig marshals cfg as TOML to path, rotating backups of any existing file.
// The file holds secrets (Redis passwords), so it is written owner-only.
func WriteConfig(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "refusing to write invalid config")
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}

	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
