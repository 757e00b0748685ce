package config

import (
	"os"
	"strconv"
	"sync"

	"github.com/spf13/viper"

	"github.com/signetai/signet/errors"
)

var (
	globalMu     sync.Mutex
	globalConfig *Config
)

// Load reads the manifest from the state root, caching the result.
func Load() (*Config, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	cfg, err := LoadFromFile(ManifestPath())
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return globalConfig, nil
}

// LoadFromFile loads the manifest from a specific path. A missing file is
// not an error: defaults apply, so a fresh state root works out of the box.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "read manifest %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal manifest")
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies SIGNET_* environment variables on top of the
// file-sourced config.
func applyEnvOverrides(cfg *Config) {
	if p := os.Getenv(EnvPort); p != "" {
		if port, err := strconv.Atoi(p); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
}

// Reset clears the cached configuration (used by tests).
func Reset() {
	globalMu.Lock()
	globalConfig = nil
	globalMu.Unlock()
}
