package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a named YAML overlay for a deployment environment. Values set
// in the profile override the environment-derived Config.
type Profile struct {
	Name          string `yaml:"name" json:"name"`
	Port          string `yaml:"port,omitempty" json:"port,omitempty"`
	LogLevel      string `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	StoreBackend  string `yaml:"store_backend,omitempty" json:"store_backend,omitempty"`
	SQLitePath    string `yaml:"sqlite_path,omitempty" json:"sqlite_path,omitempty"`
	DatabaseURL   string `yaml:"database_url,omitempty" json:"database_url,omitempty"`
	RedisURL      string `yaml:"redis_url,omitempty" json:"redis_url,omitempty"`
	NATSURL       string `yaml:"nats_url,omitempty" json:"nats_url,omitempty"`
	OTLPEndpoint  string `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	PolicyRule    string `yaml:"policy_rule,omitempty" json:"policy_rule,omitempty"`
	WithdrawEvery string `yaml:"withdraw_window,omitempty" json:"withdraw_window,omitempty"`
}

// LoadProfile loads a profile YAML by name. It searches the profiles
// directory for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return &profile, nil
}

// Apply overlays the profile's set fields onto cfg.
func (p *Profile) Apply(cfg *Config) {
	if p.Port != "" {
		cfg.Port = p.Port
	}
	if p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
	if p.StoreBackend != "" {
		cfg.StoreBackend = p.StoreBackend
	}
	if p.SQLitePath != "" {
		cfg.SQLitePath = p.SQLitePath
	}
	if p.DatabaseURL != "" {
		cfg.DatabaseURL = p.DatabaseURL
	}
	if p.RedisURL != "" {
		cfg.RedisURL = p.RedisURL
	}
	if p.NATSURL != "" {
		cfg.NATSURL = p.NATSURL
	}
	if p.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = p.OTLPEndpoint
	}
	if p.PolicyRule != "" {
		cfg.PolicyRule = p.PolicyRule
	}
	if p.WithdrawEvery != "" {
		if d, err := time.ParseDuration(p.WithdrawEvery); err == nil && d > 0 {
			cfg.WithdrawEvery = d
		}
	}
}
