// Package config loads the process configuration from the environment
// and an optional YAML file, validating it before anything connects.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/store/routing"
)

// Base44 holds the hosted-platform connection settings.
type Base44 struct {
	BaseURL string `mapstructure:"base_url"`
	AppID   string `mapstructure:"app_id"`
	APIKey  string `mapstructure:"api_key"`
}

// Neon holds the new-backend connection settings. FunctionsURL is what
// the client-side adapter calls; DatabaseURL is what the function server
// itself connects to.
type Neon struct {
	FunctionsURL string `mapstructure:"functions_url"`
	DatabaseURL  string `mapstructure:"database_url"`
}

// Config is the validated process configuration.
type Config struct {
	DefaultBackend   entity.Backend `mapstructure:"default_backend"`
	MigratedEntities []string       `mapstructure:"migrated_entities"`
	Base44           Base44         `mapstructure:"base44"`
	Neon             Neon           `mapstructure:"neon"`
	CacheTTL         time.Duration  `mapstructure:"cache_ttl"`
	ServerPort       int            `mapstructure:"server_port"`
}

// RoutingMode maps the default-backend flag onto the router's mode.
func (c *Config) RoutingMode() routing.Mode {
	if c.DefaultBackend == entity.BackendNeon {
		return routing.ModeNewPreferred
	}
	return routing.ModeLegacyDefault
}

// Migrated parses the migrated-entity allow-list into typed tags.
// Unknown names are rejected at load time, not at request time.
func (c *Config) Migrated() ([]entity.Type, error) {
	out := make([]entity.Type, 0, len(c.MigratedEntities))
	for _, name := range c.MigratedEntities {
		t := entity.Type(strings.TrimSpace(name))
		if !t.Valid() {
			return nil, &entity.ConfigurationError{Reason: fmt.Sprintf("unknown entity type %q in migrated_entities", name)}
		}
		out = append(out, t)
	}
	return out, nil
}

// Load reads configuration from the environment (REPAIRSTORE_ prefix,
// dots become underscores) and, when configPath is non-empty, the YAML
// file at that path. Environment variables win over the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("default_backend", string(entity.BackendBase44))
	v.SetDefault("cache_ttl", "5m")
	v.SetDefault("server_port", 8080)
	v.SetDefault("migrated_entities", []string{})

	// Nested keys must be registered for AutomaticEnv to reach them
	// during Unmarshal.
	v.SetDefault("base44.base_url", "")
	v.SetDefault("base44.app_id", "")
	v.SetDefault("base44.api_key", "")
	v.SetDefault("neon.functions_url", "")
	v.SetDefault("neon.database_url", "")

	v.SetEnvPrefix("REPAIRSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DefaultBackend {
	case entity.BackendBase44, entity.BackendNeon:
	default:
		return &entity.ConfigurationError{Reason: fmt.Sprintf("unknown default backend %q", c.DefaultBackend)}
	}
	// Selecting neon without an endpoint is a broken deployment; failing
	// here beats every request failing later.
	if c.DefaultBackend == entity.BackendNeon && c.Neon.FunctionsURL == "" {
		return &entity.ConfigurationError{Reason: "default backend is neon but neon.functions_url is not set"}
	}
	if _, err := c.Migrated(); err != nil {
		return err
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return &entity.ConfigurationError{Reason: fmt.Sprintf("invalid server port %d", c.ServerPort)}
	}
	return nil
}
