package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SyncConfig holds external hub sync settings.
type SyncConfig struct {
	Enabled bool   `yaml:"enabled"`
	HubURL  string `yaml:"hub_url,omitempty"`
}

// DriftConfig holds exploration settings for gene selection.
type DriftConfig struct {
	Enabled    bool `yaml:"enabled"`
	Population int  `yaml:"population,omitempty"`
}

// StoreConfig holds database settings.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // relative paths resolve under HELIX_HOME
}

// Config holds helix configuration.
type Config struct {
	Version   string      `yaml:"version"`
	Store     StoreConfig `yaml:"store,omitempty"`
	Sync      SyncConfig  `yaml:"sync,omitempty"`
	Drift     DriftConfig `yaml:"drift,omitempty"`
	Workspace string      `yaml:"workspace,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Version: "1",
		Store:   StoreConfig{Path: "helix.db"},
	}
}

// Issue represents a health check finding.
type Issue struct {
	Severity string // "warning" or "error"
	Message  string
}

// Home returns the HELIX_HOME path, respecting the HELIX_HOME env var.
func Home() string {
	if h := os.Getenv("HELIX_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".helix")
	}
	return filepath.Join(home, ".helix")
}

// Init creates the HELIX_HOME directory structure and default config.
func Init(home string, force bool) error {
	if _, err := os.Stat(home); err == nil && !force {
		return fmt.Errorf("HELIX_HOME already exists at %s (use --force to reinitialize)", home)
	}
	if err := os.MkdirAll(home, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", home, err)
	}

	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	cfgPath := filepath.Join(home, "config.yaml")
	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// LoadConfig reads config.yaml from an existing HELIX_HOME. Missing fields
// are filled from defaults.
func LoadConfig(home string) (Config, error) {
	cfgPath := filepath.Join(home, "config.yaml")
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read HELIX_HOME config at %s: %w", cfgPath, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config.yaml: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config back to config.yaml.
func SaveConfig(home string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	cfgPath := filepath.Join(home, "config.yaml")
	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// SetConfigValue sets a config value by dot-path key (e.g. "sync.hub_url").
func SetConfigValue(home string, cfg *Config, key, value string) error {
	switch key {
	case "store.path":
		cfg.Store.Path = value
	case "sync.enabled":
		cfg.Sync.Enabled = value == "true"
	case "sync.hub_url":
		cfg.Sync.HubURL = value
	case "drift.enabled":
		cfg.Drift.Enabled = value == "true"
	case "drift.population":
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n < 0 {
			return fmt.Errorf("drift.population must be a non-negative integer")
		}
		cfg.Drift.Population = n
	case "workspace":
		cfg.Workspace = value
	default:
		return fmt.Errorf("unknown config key: %s\nValid keys: store.path, sync.enabled, sync.hub_url, drift.enabled, drift.population, workspace", key)
	}
	return SaveConfig(home, *cfg)
}

// DatabasePath resolves the configured database location under HELIX_HOME.
func DatabasePath(home string, cfg Config) string {
	p := cfg.Store.Path
	if p == "" {
		p = "helix.db"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(home, p)
}

// CheckHealth verifies the HELIX_HOME structure and the database file.
func CheckHealth(home string) []Issue {
	var issues []Issue

	info, err := os.Stat(home)
	if err != nil {
		issues = append(issues, Issue{"error", fmt.Sprintf("missing HELIX_HOME: %s", home)})
		return issues
	}
	if !info.IsDir() {
		issues = append(issues, Issue{"error", fmt.Sprintf("expected directory but found file: %s", home)})
		return issues
	}

	cfgPath := filepath.Join(home, "config.yaml")
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		issues = append(issues, Issue{"error", fmt.Sprintf("cannot read config.yaml: %v", err)})
		return issues
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		issues = append(issues, Issue{"error", fmt.Sprintf("config.yaml is not valid YAML: %v", err)})
		return issues
	}

	dbPath := DatabasePath(home, cfg)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		issues = append(issues, Issue{"warning", fmt.Sprintf("database not created yet: %s", dbPath)})
	} else {
		s, err := Open(dbPath)
		if err != nil {
			issues = append(issues, Issue{"error", fmt.Sprintf("cannot open database: %v", err)})
		} else {
			if err := s.Ping(); err != nil {
				issues = append(issues, Issue{"error", fmt.Sprintf("database ping failed: %v", err)})
			}
			_ = s.Close()
		}
	}

	return issues
}
