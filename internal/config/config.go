// Package config provides configuration management for the typepulse companion.
// It handles loading and parsing YAML configuration files, and provides structured
// access to application settings including the backend base URL, the OAuth callback
// port, the local state directory, and logging behavior.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values applied when the configuration file omits a setting.
const (
	// DefaultBackendBaseURL is the base URL of the learning backend.
	DefaultBackendBaseURL = "http://localhost:5000"

	// DefaultAuthProvider is the backend-side identity provider used for login.
	DefaultAuthProvider = "github"

	// DefaultCallbackPort is the fixed local port used for the OAuth callback listener.
	DefaultCallbackPort = 3000
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// BackendBaseURL is the base URL of the backend consumed by all authenticated calls.
	BackendBaseURL string `yaml:"backend-base-url" json:"backend-base-url"`

	// AuthProvider selects the backend's identity provider segment in the
	// authorization URL ({backend}/auth/<provider>).
	AuthProvider string `yaml:"auth-provider" json:"auth-provider"`

	// OAuthCallbackPort is the fixed local port the callback listener binds to.
	OAuthCallbackPort int `yaml:"oauth-callback-port" json:"oauth-callback-port"`

	// StateDir is the directory holding the credential file and the persisted
	// device/consent state. Defaults to ~/.typepulse.
	StateDir string `yaml:"state-dir" json:"state-dir"`

	// WatchDir is the workspace directory observed for editing activity.
	// Defaults to the current working directory.
	WatchDir string `yaml:"watch-dir" json:"watch-dir"`

	// LoggingToFile switches log output from stdout to a rotating file under StateDir.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`
}

// LoadConfig reads a YAML configuration file from the given path and parses it
// into a Config struct. A missing file is not an error; defaults are applied
// for every omitted setting.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(configFile) != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s failed: %w", configFile, err)
			}
		} else if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s failed: %w", configFile, err)
		}
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.BackendBaseURL) == "" {
		cfg.BackendBaseURL = DefaultBackendBaseURL
	}
	cfg.BackendBaseURL = strings.TrimRight(cfg.BackendBaseURL, "/")
	if strings.TrimSpace(cfg.AuthProvider) == "" {
		cfg.AuthProvider = DefaultAuthProvider
	}
	if cfg.OAuthCallbackPort <= 0 {
		cfg.OAuthCallbackPort = DefaultCallbackPort
	}
	if strings.TrimSpace(cfg.StateDir) == "" {
		cfg.StateDir = defaultStateDir()
	}
	if strings.TrimSpace(cfg.WatchDir) == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.WatchDir = wd
		} else {
			cfg.WatchDir = "."
		}
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".typepulse"
	}
	return filepath.Join(home, ".typepulse")
}
