package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Ning0612/pkgsync/internal/domain"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// PKGSYNC_INDEXED_STABLE_CONNECTION_STRING overrides
// indexed.stable.connection-string
const EnvPrefix = "PKGSYNC"

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{
		".",
		"./configs",
	}

	// Add user config directory
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "pkgsync"))
	}

	// Add home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".pkgsync"))
	}

	paths = append(paths, "/etc/pkgsync")

	return paths
}

// Load reads and parses a configuration file
// If path is empty, searches default locations for config.yaml
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		// Use specific file
		v.SetConfigFile(path)
	} else {
		// Search default paths
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrConfigNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

// LoadFromString parses configuration from a YAML string
func LoadFromString(yamlContent string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("work-dir", os.TempDir())
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file.max-size-mb", 50)
	v.SetDefault("logging.file.max-age-days", 30)
	v.SetDefault("logging.file.max-backups", 5)
	// Bound so the env override reaches Unmarshal without a file entry
	v.SetDefault("gpg.passphrase", "")

	if configDir, err := os.UserConfigDir(); err == nil {
		v.SetDefault("lock-dir", filepath.Join(configDir, "pkgsync", "locks"))
		v.SetDefault("state-dir", filepath.Join(configDir, "pkgsync"))
	}

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg.WorkDir = ExpandPath(cfg.WorkDir)
	cfg.LockDir = ExpandPath(cfg.LockDir)
	cfg.StateDir = ExpandPath(cfg.StateDir)
	cfg.GPG.KeyPath = ExpandPath(cfg.GPG.KeyPath)
	cfg.Deb.AptConfDir = ExpandPath(cfg.Deb.AptConfDir)

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
