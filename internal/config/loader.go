package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default settings file name.
const DefaultConfigFile = "arbiter.yaml"

// GitHubTokenEnv is the environment variable that overrides github_token.
const GitHubTokenEnv = "GITHUB_TOKEN"

// ErrConfigNotFound is returned when the settings file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// LoadSettingsFile loads settings from a YAML file.
// If the file does not exist, it returns ErrConfigNotFound.
// Callers should handle this error appropriately based on whether
// the path was explicitly specified by the user.
func LoadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	settings := NewSettings()
	settings.Resolvers = nil
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	if settings.Tools == nil {
		settings.Tools = make(map[string]Tool)
	}
	if len(settings.Resolvers) == 0 {
		settings.Resolvers = append([]string(nil), DefaultResolvers...)
	}

	return settings, nil
}

// ApplyEnv overrides settings from environment variables.
func (s *Settings) ApplyEnv() {
	if token := os.Getenv(GitHubTokenEnv); token != "" {
		s.GitHubToken = token
	}
}

// FindConfigFile searches for the settings file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for arbiter.yaml in the current directory
// 3. Look for arbiter.yaml in the XDG config directory
//
// Returns the path to the settings file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err == nil {
		cwdConfig := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(cwdConfig); err == nil {
			return cwdConfig
		}
	}

	xdgConfig := filepath.Join(XDGConfigDir(), DefaultConfigFile)
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig
	}

	return ""
}
