package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".chorus"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("CHORUS_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load reads the config file, falling back to defaults when it is absent,
// then applies environment variable overrides.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults are a valid configuration.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)

	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = filepath.Dir(path)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	envconfig.Process("CHORUS_AGENT", &cfg.Agent)
	envconfig.Process("CHORUS_PROVIDER", &cfg.Provider)
	envconfig.Process("CHORUS_INTEREST", &cfg.Interest)
	envconfig.Process("CHORUS_POLICY", &cfg.Policy)
	envconfig.Process("CHORUS_RATELIMIT", &cfg.RateLimit)
	envconfig.Process("CHORUS_QUEUE", &cfg.Queue)
	envconfig.Process("CHORUS_DEDUPE", &cfg.Dedupe)
	envconfig.Process("CHORUS_TEAM", &cfg.Team)
	envconfig.Process("CHORUS_TEAM_TELEMETRY", &cfg.Team.Telemetry)
	envconfig.Process("CHORUS_SLACK", &cfg.Channels.Slack)
	envconfig.Process("CHORUS_PATHS", &cfg.Paths)
}

// Save writes the config to the default path, creating the directory if
// needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
