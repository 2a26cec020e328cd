// Package config resolves tome's settings. Precedence, highest first:
// command-line flags, TOME_* environment variables, the config file, and
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/store"
)

const (
	// FileName is the config file name inside the config directory.
	FileName = "config.toml"
	// PathEnv overrides the config file location.
	PathEnv   = "TOME_CONFIG"
	envPrefix = "TOME"
)

// Config holds the resolved settings.
type Config struct {
	// Home is the cache root holding installed sources.
	Home string `toml:"home" mapstructure:"home"`
	// VerifySSL is the default for certificate validation on downloads.
	VerifySSL bool `toml:"verify_ssl" mapstructure:"verify_ssl"`
	// Verbosity is 0 (warnings) to 3 (trace).
	Verbosity int `toml:"verbosity" mapstructure:"verbosity"`
	// LogFile, if set, receives a rotating copy of the log.
	LogFile string `toml:"log_file,omitempty" mapstructure:"log_file"`
	// Python is the interpreter used to provision requirements.
	Python string `toml:"python,omitempty" mapstructure:"python"`
	// Installer is "pip", "uv" or "auto".
	Installer string `toml:"installer" mapstructure:"installer"`
}

// Overrides are flag values. Zero values leave the lower layers alone.
type Overrides struct {
	Home      string
	Verbosity int
	LogFile   string
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Home:      store.DefaultRoot(),
		VerifySSL: true,
		Installer: "pip",
	}
}

// DefaultPath is $TOME_CONFIG, or config.toml under the XDG config home.
func DefaultPath() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return filepath.Join(xdg.ConfigHome, "tome", FileName)
}

// Load resolves the configuration. An empty path means DefaultPath; a
// missing file is not an error.
func Load(o Overrides, path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	v.SetConfigType("toml")

	// Lowest priority: defaults. Every key needs one so AutomaticEnv can
	// find it during Unmarshal.
	d := Default()
	v.SetDefault("home", d.Home)
	v.SetDefault("verify_ssl", d.VerifySSL)
	v.SetDefault("verbosity", d.Verbosity)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("python", d.Python)
	v.SetDefault("installer", d.Installer)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, tomeerrors.Wrapf(err, tomeerrors.ErrConfig, "Cannot read config file %s", path)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	// Highest priority: CLI flags
	if o.Home != "" {
		v.Set("home", o.Home)
	}
	if o.Verbosity > 0 {
		v.Set("verbosity", o.Verbosity)
	}
	if o.LogFile != "" {
		v.Set("log_file", o.LogFile)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, tomeerrors.Wrap(err, tomeerrors.ErrConfig, "Invalid configuration")
	}
	if cfg.Home == "" {
		return nil, tomeerrors.New(tomeerrors.ErrConfig, "The tome home folder cannot be empty")
	}
	home, err := filepath.Abs(cfg.Home)
	if err != nil {
		return nil, tomeerrors.Wrapf(err, tomeerrors.ErrConfig, "Invalid home folder %s", cfg.Home)
	}
	cfg.Home = home
	return cfg, nil
}

// Marshal renders the config as TOML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// WriteDefault writes the default config to path unless a file is already
// there. It reports whether it wrote anything.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	data, err := Default().Marshal()
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}
