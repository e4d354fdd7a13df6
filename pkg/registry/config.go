package registry

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the construction-time policy of one named cache. Zero fields fall back to the cache package
// defaults.
type Profile struct {
	MaxSizeBytes    int64         `yaml:"max_size_bytes"`
	MaxEntries      int           `yaml:"max_entries"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	PersistInterval time.Duration `yaml:"persist_interval"`
	Persist         bool          `yaml:"persist"`
}

// Config configures a registry: where persisted caches live and which profile each named cache gets.
type Config struct {
	// DataDir is the root directory for persisted caches; each instance owns the subdirectory named after it.
	DataDir string `yaml:"data_dir"`
	// Default applies to every cache without an explicit profile.
	Default Profile `yaml:"default"`
	// Profiles overrides the default per cache name.
	Profiles map[string]Profile `yaml:"profiles"`
}

// profileFor returns the profile of a named cache.
func (c Config) profileFor(name string) Profile {
	if profile, exists := c.Profiles[name]; exists {
		return profile
	}
	return c.Default
}

// LoadConfig reads a registry configuration from a YAML file.
func LoadConfig(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read registry config: %w", err)
	}
	var conf Config
	if err := yaml.Unmarshal(configBytes, &conf); err != nil {
		return Config{}, fmt.Errorf("failed to parse registry config: %w", err)
	}
	return conf, nil
}
