package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"modelgate/internal/catalog"
)

const (
	defaultConnectTimeout  = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultProvidersMaxAge = time.Hour
	defaultModelsMaxAge    = 10 * time.Minute
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server      ServerConfig                `yaml:"server"`
	Timeouts    TimeoutConfig               `yaml:"timeouts"`
	Cache       CacheConfig                 `yaml:"cache"`
	Credentials map[string]StoredCredential `yaml:"credentials"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// TimeoutConfig bounds the two phases of an upstream dispatch: establishing
// the connection and waiting for the next chunk once streaming.
type TimeoutConfig struct {
	ConnectSeconds   int `yaml:"connect_seconds"`
	IdleChunkSeconds int `yaml:"idle_chunk_seconds"`
}

// Connect returns the connect-phase timeout, defaulted when unset.
func (t TimeoutConfig) Connect() time.Duration {
	if t.ConnectSeconds <= 0 {
		return defaultConnectTimeout
	}
	return time.Duration(t.ConnectSeconds) * time.Second
}

// IdleChunk returns the mid-stream silence timeout, defaulted when unset.
func (t TimeoutConfig) IdleChunk() time.Duration {
	if t.IdleChunkSeconds <= 0 {
		return defaultIdleTimeout
	}
	return time.Duration(t.IdleChunkSeconds) * time.Second
}

// CacheConfig sets the freshness window for each cache-wrapped read
// endpoint. Windows differ per endpoint because the underlying data changes
// at different rates; they are deployment tuning values, not derived.
type CacheConfig struct {
	ProvidersMaxAgeSeconds int `yaml:"providers_max_age_seconds"`
	ModelsMaxAgeSeconds    int `yaml:"models_max_age_seconds"`
}

// ProvidersMaxAge returns the window for the provider list endpoint.
func (c CacheConfig) ProvidersMaxAge() time.Duration {
	if c.ProvidersMaxAgeSeconds <= 0 {
		return defaultProvidersMaxAge
	}
	return time.Duration(c.ProvidersMaxAgeSeconds) * time.Second
}

// ModelsMaxAge returns the window for the per-provider model list endpoint.
func (c CacheConfig) ModelsMaxAge() time.Duration {
	if c.ModelsMaxAgeSeconds <= 0 {
		return defaultModelsMaxAge
	}
	return time.Duration(c.ModelsMaxAgeSeconds) * time.Second
}

// StoredCredential is a named upstream API key scoped to one provider
// family, referenced from model configurations by its map key.
type StoredCredential struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
}

// Load reads YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Timeouts.ConnectSeconds < 0 {
		return fmt.Errorf("timeouts.connect_seconds must not be negative, got %d", c.Timeouts.ConnectSeconds)
	}
	if c.Timeouts.IdleChunkSeconds < 0 {
		return fmt.Errorf("timeouts.idle_chunk_seconds must not be negative, got %d", c.Timeouts.IdleChunkSeconds)
	}
	if c.Cache.ProvidersMaxAgeSeconds < 0 {
		return fmt.Errorf("cache.providers_max_age_seconds must not be negative, got %d", c.Cache.ProvidersMaxAgeSeconds)
	}
	if c.Cache.ModelsMaxAgeSeconds < 0 {
		return fmt.Errorf("cache.models_max_age_seconds must not be negative, got %d", c.Cache.ModelsMaxAgeSeconds)
	}

	for ref, cred := range c.Credentials {
		if err := validateCredential(ref, cred); err != nil {
			return err
		}
	}
	return nil
}

func validateCredential(ref string, cred StoredCredential) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("credential reference name must not be empty")
	}
	if strings.TrimSpace(cred.APIKey) == "" {
		return fmt.Errorf("credential %s: api_key must be provided", ref)
	}
	if _, err := catalog.Describe(cred.Provider); err != nil {
		return fmt.Errorf("credential %s: %w", ref, err)
	}
	return nil
}
