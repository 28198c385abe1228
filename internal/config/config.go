// SPDX-License-Identifier: MPL-2.0

// Package config loads gitpkg's user-level configuration. The config file
// is optional; everything has a working default.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"gitpkg/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "gitpkg"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"
)

// Config is gitpkg's user-level configuration.
type Config struct {
	// LinkMode is the install method used when a package declares "auto":
	// "auto" tries a symlink and falls back to copying, "link" requires
	// symlinks, "copy" always copies.
	LinkMode string `mapstructure:"link_mode" toml:"link_mode"`

	// Verbose enables debug logging by default.
	Verbose bool `mapstructure:"verbose" toml:"verbose"`

	// UI groups presentation options.
	UI UIConfig `mapstructure:"ui" toml:"ui"`
}

// UIConfig groups presentation options.
type UIConfig struct {
	// ColorScheme selects the output palette: "auto", "dark" or "light".
	ColorScheme string `mapstructure:"color_scheme" toml:"color_scheme"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LinkMode: "auto",
		Verbose:  false,
		UI:       UIConfig{ColorScheme: "auto"},
	}
}

// ValidLinkMode reports whether mode is one of the accepted link modes.
func ValidLinkMode(mode string) bool {
	switch mode {
	case "auto", "link", "copy":
		return true
	}
	return false
}

// ConfigDir returns the gitpkg configuration directory using
// platform-specific conventions: Windows uses %APPDATA%, macOS uses
// ~/Library/Application Support, and Linux/others use $XDG_CONFIG_HOME
// (defaulting to ~/.config).
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// Load reads the configuration. If path is non-empty that exact file is
// required; otherwise the platform config directory is consulted and a
// missing file silently yields the defaults. Environment variables prefixed
// GITPKG_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("link_mode", defaults.LinkMode)
	v.SetDefault("verbose", defaults.Verbose)
	v.SetDefault("ui.color_scheme", defaults.UI.ColorScheme)

	v.SetEnvPrefix("GITPKG")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file contains valid TOML").
				Wrap(err).
				BuildError()
		}
	} else {
		cfgDir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName(ConfigFileName)
		v.SetConfigType(ConfigFileExt)
		v.AddConfigPath(cfgDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, issue.NewErrorContext().
					WithOperation("load configuration").
					WithResource(filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)).
					WithSuggestion("Check that the file contains valid TOML").
					Wrap(err).
					BuildError()
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if !ValidLinkMode(cfg.LinkMode) {
		return nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource("link_mode").
			WithSuggestion("Use one of: auto, link, copy").
			Wrap(fmt.Errorf("invalid link_mode %q", cfg.LinkMode)).
			BuildError()
	}

	return &cfg, nil
}

// Save writes the configuration to the platform config directory.
func Save(cfg *Config) error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
