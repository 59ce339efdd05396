package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults holds the paths used when no flags override them.
type Defaults struct {
	ConfigPath string
	BaseDir    string
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - MEDIALIB_CONFIG_PATH: config file location (default: ~/.config/medialib.toml)
//   - MEDIALIB_HOME: base directory for medialib data (default: ~/.local/share/medialib)
func GetDefaults() (*Defaults, error) {
	configPath := os.Getenv("MEDIALIB_CONFIG_PATH")
	baseDir := os.Getenv("MEDIALIB_HOME")
	if configPath != "" && baseDir != "" {
		return &Defaults{ConfigPath: configPath, BaseDir: baseDir}, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}
	if configPath == "" {
		configPath = filepath.Join(homeDir, ".config", "medialib.toml")
	}
	if baseDir == "" {
		baseDir = filepath.Join(homeDir, ".local", "share", "medialib")
	}
	return &Defaults{ConfigPath: configPath, BaseDir: baseDir}, nil
}
