package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath returns $DATAMANAGER_CONFIG, or ~/.config/datamanager.toml.
func DefaultConfigPath() (string, error) {
	if path := os.Getenv("DATAMANAGER_CONFIG"); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "datamanager.toml"), nil
}

// DefaultHome returns $DATAMANAGER_HOME, or ~/.local/share/datamanager.
func DefaultHome() (string, error) {
	if path := os.Getenv("DATAMANAGER_HOME"); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "datamanager"), nil
}
