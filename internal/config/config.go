// Package config loads the optional user configuration from
// ~/.hydra/config.toml. Everything has a working default; the file mainly
// exists so operators can pin model pricing without a rebuild.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Rate holds per-million-token pricing for one model.
type Rate struct {
	Input      float64 `toml:"input"`
	Output     float64 `toml:"output"`
	CacheRead  float64 `toml:"cache_read"`
	CacheWrite float64 `toml:"cache_write"`
}

// LogConfig configures the debug log.
type LogConfig struct {
	Level string `toml:"level"`
	Debug bool   `toml:"debug"`
}

// Config is the parsed config.toml.
type Config struct {
	Log     LogConfig       `toml:"log"`
	Pricing map[string]Rate `toml:"pricing"`
}

// Default returns the zero-value config with defaults applied.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info"},
		Pricing: map[string]Rate{},
	}
}

// Path returns the config file path under baseDir (normally ~/.hydra).
func Path(baseDir string) string {
	return filepath.Join(baseDir, "config.toml")
}

// Load reads config.toml from baseDir. A missing file yields defaults; a
// malformed file yields defaults and the error so the caller can log it.
func Load(baseDir string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(Path(baseDir))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return Default(), err
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Pricing == nil {
		cfg.Pricing = map[string]Rate{}
	}
	return cfg, nil
}
