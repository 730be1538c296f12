package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/logger"
)

// SuiteBlocks maps a suite name ("stable", "nightly" or "all") to the
// vendor options of that suite
type SuiteBlocks map[string]map[string]string

// Config represents the complete configuration for pkgsync
type Config struct {
	// Vendor selects the remote object store for both sections
	Vendor string `mapstructure:"vendor"`

	// WorkDir is where the local caches of the remote containers live
	WorkDir string `mapstructure:"work-dir"`

	// LockDir holds the per-target lock files
	LockDir string `mapstructure:"lock-dir"`

	// StateDir holds the execution history database
	StateDir string `mapstructure:"state-dir"`

	// Incoming is the storage CI uploads new packages to
	Incoming SuiteBlocks `mapstructure:"incoming"`

	// Indexed is the storage the published repositories are served from
	Indexed SuiteBlocks `mapstructure:"indexed"`

	CDN     CDNConfig     `mapstructure:"cdn"`
	Logging LoggingConfig `mapstructure:"logging"`
	GPG     GPGConfig     `mapstructure:"gpg"`
	Deb     DebConfig     `mapstructure:"deb"`
}

// CDNConfig selects the cache that fronts the indexed storage
type CDNConfig struct {
	// Vendor is "cloudflare", or empty / "noop" for no CDN
	Vendor string      `mapstructure:"vendor"`
	Suites SuiteBlocks `mapstructure:"suites"`
}

// LoggingConfig mirrors logger.Config in file form
type LoggingConfig struct {
	Level  string            `mapstructure:"level"`
	Format string            `mapstructure:"format"`
	File   LoggingFileConfig `mapstructure:"file"`
}

// LoggingFileConfig configures the rotating log file
type LoggingFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max-size-mb"`
	MaxAgeDays int    `mapstructure:"max-age-days"`
	MaxBackups int    `mapstructure:"max-backups"`
	Compress   bool   `mapstructure:"compress"`
}

// GPGConfig points at the signing key
type GPGConfig struct {
	KeyPath string `mapstructure:"key-path"`
	KeyName string `mapstructure:"key-name"`

	// Passphrase is usually supplied through PKGSYNC_GPG_PASSPHRASE
	Passphrase string `mapstructure:"passphrase"`
}

// DebConfig holds APT specific settings
type DebConfig struct {
	// AptConfDir contains one apt-ftparchive config per suite (<suite>.conf)
	AptConfDir string `mapstructure:"apt-conf-dir"`
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	if !domain.Vendor(c.Vendor).IsValid() {
		return fmt.Errorf("%w: %s", domain.ErrUnknownVendor, c.Vendor)
	}

	sections := []struct {
		name   domain.Section
		blocks SuiteBlocks
	}{
		{domain.SectionIncoming, c.Incoming},
		{domain.SectionIndexed, c.Indexed},
	}
	for _, s := range sections {
		if len(s.blocks) == 0 {
			return fmt.Errorf("%w: section %s is missing", domain.ErrConfigInvalid, s.name)
		}
		if err := validateBlocks(string(s.name), s.blocks); err != nil {
			return err
		}
	}

	switch c.CDN.Vendor {
	case "", "noop":
	case "cloudflare":
		if len(c.CDN.Suites) == 0 {
			return fmt.Errorf("%w: cdn vendor %s has no suites", domain.ErrConfigInvalid, c.CDN.Vendor)
		}
		if err := validateBlocks("cdn", c.CDN.Suites); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: cdn %s", domain.ErrUnknownVendor, c.CDN.Vendor)
	}

	if c.Logging.File.Enabled && c.Logging.File.Path == "" {
		return fmt.Errorf("%w: logging file enabled without a path", domain.ErrConfigInvalid)
	}

	return nil
}

func validateBlocks(section string, blocks SuiteBlocks) error {
	for suite, opts := range blocks {
		if suite != string(domain.SuiteAll) && !domain.Suite(suite).IsValid() {
			return fmt.Errorf("%w: %s has unknown suite %s", domain.ErrConfigInvalid, section, suite)
		}
		if len(opts) == 0 {
			return fmt.Errorf("%w: %s.%s is empty", domain.ErrConfigInvalid, section, suite)
		}
	}
	return nil
}

// StorageOptions returns the vendor options of a section for a suite,
// falling back to the "all" block
func (c *Config) StorageOptions(section domain.Section, suite domain.Suite) (map[string]string, error) {
	var blocks SuiteBlocks
	switch section {
	case domain.SectionIncoming:
		blocks = c.Incoming
	case domain.SectionIndexed:
		blocks = c.Indexed
	default:
		return nil, fmt.Errorf("%w: unknown section %s", domain.ErrConfigInvalid, section)
	}
	return lookupSuite(string(section), blocks, suite)
}

// CDNOptions returns the CDN options for a suite. With no CDN configured
// it returns nil options and no error.
func (c *Config) CDNOptions(suite domain.Suite) (map[string]string, error) {
	if c.CDN.Vendor == "" || c.CDN.Vendor == "noop" {
		return nil, nil
	}
	return lookupSuite("cdn", c.CDN.Suites, suite)
}

func lookupSuite(section string, blocks SuiteBlocks, suite domain.Suite) (map[string]string, error) {
	if opts, ok := blocks[string(suite)]; ok {
		return opts, nil
	}
	if opts, ok := blocks[string(domain.SuiteAll)]; ok {
		return opts, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", domain.ErrSuiteNotConfigured, section, suite)
}

// LoggerConfig converts the logging section for logger.Init.
// Output always goes to stderr, plus the file when enabled.
func (c *Config) LoggerConfig() logger.Config {
	cfg := logger.Config{
		Level:   logger.ParseLevel(c.Logging.Level),
		Format:  logger.ParseFormat(c.Logging.Format),
		Outputs: []logger.OutputConfig{{Type: logger.OutputStderr}},
		File: logger.FileConfig{
			Enabled:    c.Logging.File.Enabled,
			Path:       ExpandPath(c.Logging.File.Path),
			MaxSizeMB:  c.Logging.File.MaxSizeMB,
			MaxAgeDays: c.Logging.File.MaxAgeDays,
			MaxBackups: c.Logging.File.MaxBackups,
			Compress:   c.Logging.File.Compress,
		},
	}
	if cfg.File.Enabled {
		cfg.Outputs = append(cfg.Outputs, logger.OutputConfig{Type: logger.OutputFile})
	}
	cfg.Secrets = c.Secrets()
	return cfg
}

// secretOptions are the storage and CDN option keys holding credentials
var secretOptions = map[string]bool{
	"connection-string": true,
	"secret-key":        true,
	"client-secret":     true,
	"api-token":         true,
}

// Secrets returns every configured credential value, so the logger can
// mask it verbatim even when it shows up inside an SDK error message
func (c *Config) Secrets() []string {
	seen := make(map[string]bool)
	var secrets []string
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			secrets = append(secrets, v)
		}
	}

	for _, blocks := range []SuiteBlocks{c.Incoming, c.Indexed, c.CDN.Suites} {
		for _, opts := range blocks {
			for key, value := range opts {
				if secretOptions[key] {
					add(value)
				}
			}
		}
	}
	add(c.GPG.Passphrase)

	sort.Strings(secrets)
	return secrets
}


// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	// Expand ~ to home directory
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	// Expand environment variables
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
