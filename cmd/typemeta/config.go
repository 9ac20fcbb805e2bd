package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/jward/typemeta/internal/cache"
)

// Config is the typemeta.yaml layout. Every key can also be set through a
// TYPEMETA_ environment variable, with dots replaced by underscores.
type Config struct {
	Out        string      `mapstructure:"out"`
	Cache      CacheConfig `mapstructure:"cache"`
	Workers    int         `mapstructure:"workers"`
	Parallel   bool        `mapstructure:"parallel"`
	Extensions []string    `mapstructure:"extensions"`
}

// CacheConfig selects the incremental cache backend.
type CacheConfig struct {
	Path    string `mapstructure:"path"`
	Backend string `mapstructure:"backend"`
}

const (
	backendJSON   = "json"
	backendSQLite = "sqlite"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("out", "types.tmeta")
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.backend", backendJSON)
	v.SetDefault("workers", 0)
	v.SetDefault("parallel", true)
	v.SetDefault("extensions", []string{})

	v.SetConfigName("typemeta")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TYPEMETA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads typemeta.yaml from dir, or cfgFile when set. A missing
// default config file is not an error.
func loadConfig(v *viper.Viper, dir, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case backendJSON, backendSQLite:
	default:
		return fmt.Errorf("invalid cache.backend %q: must be %s or %s", c.Cache.Backend, backendJSON, backendSQLite)
	}
	if c.Workers < 0 {
		return fmt.Errorf("invalid workers %d: must be non-negative", c.Workers)
	}
	if c.Out == "" {
		return fmt.Errorf("out must not be empty")
	}
	return nil
}

// cachePath returns the configured cache path, defaulting to a file under
// .typemeta/ next to the output.
func (c *Config) cachePath(root string) string {
	p := c.Cache.Path
	if p == "" {
		name := "cache.json"
		if c.Cache.Backend == backendSQLite {
			name = "cache.db"
		}
		p = filepath.Join(".typemeta", name)
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// outPath resolves Out against root.
func (c *Config) outPath(root string) string {
	if filepath.IsAbs(c.Out) {
		return c.Out
	}
	return filepath.Join(root, c.Out)
}

// openBackend opens the configured cache backend, creating its directory.
func (c *Config) openBackend(root string) (cache.Backend, error) {
	path := c.cachePath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if c.Cache.Backend == backendSQLite {
		return cache.OpenSQLite(path)
	}
	return cache.NewFileBackend(path), nil
}
