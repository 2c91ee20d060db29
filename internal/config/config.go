// Package config loads fh settings from flags, FH_* environment variables,
// a .env file and an optional TOML config file, in that order of priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"notashelf.dev/fh/internal/flake"
)

const (
	AppName        = "fh"
	EnvPrefix      = "FH"
	ConfigFileName = "config"
	ConfigFileExt  = "toml"
	// LocalFileName is looked up in the working directory when there is no
	// user config file.
	LocalFileName = "fh.toml"
)

// Mapping statically ties a forge repository to its registry project. Used
// by convert as is and, reversed, by eject.
type Mapping struct {
	Source   string `mapstructure:"source"`
	Registry string `mapstructure:"registry"`
}

type Config struct {
	APIAddr      string        `mapstructure:"api_addr"`
	FrontendAddr string        `mapstructure:"frontend_addr"`
	Output       string        `mapstructure:"output"`
	Verbose      bool          `mapstructure:"verbose"`
	Offline      bool          `mapstructure:"offline"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	Token        string        `mapstructure:"token"`
	Mappings     []Mapping     `mapstructure:"mappings"`
}

func DefaultConfig() *Config {
	return &Config{
		APIAddr:      "https://api.flakehub.com",
		FrontendAddr: "https://flakehub.com",
		Output:       "pretty",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
	}
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// ConfigFile, when set, is the only config file read and must exist.
	ConfigFile string
	// ConfigDir overrides Dir.
	ConfigDir string
	// EnvFile is loaded into the environment if present. Defaults to ".env".
	EnvFile string
	// Flags are bound over every other source.
	Flags *pflag.FlagSet
}

// Dir returns $XDG_CONFIG_HOME/fh, defaulting to ~/.config/fh.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, AppName), nil
}

// Load resolves the configuration. It returns the config file that was
// read, or "" when only defaults, environment and flags applied.
func Load(opts LoadOptions) (*Config, string, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault("api_addr", defaults.APIAddr)
	v.SetDefault("frontend_addr", defaults.FrontendAddr)
	v.SetDefault("output", defaults.Output)
	v.SetDefault("verbose", defaults.Verbose)
	v.SetDefault("offline", defaults.Offline)
	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("max_retries", defaults.MaxRetries)
	v.SetDefault("token", defaults.Token)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for _, key := range []string{"api_addr", "frontend_addr", "output", "verbose", "offline", "timeout", "max_retries"} {
			if f := opts.Flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, "", fmt.Errorf("binding flag %s: %w", f.Name, err)
				}
			}
		}
	}

	path, err := configFile(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(ConfigFileExt)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Token == "" {
		cfg.Token = readToken()
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, path, nil
}

func configFile(opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		if !fileExists(opts.ConfigFile) {
			return "", fmt.Errorf("config file not found: %s", opts.ConfigFile)
		}
		return opts.ConfigFile, nil
	}

	dir := opts.ConfigDir
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return "", err
		}
	}
	if path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt); fileExists(path) {
		return path, nil
	}
	if fileExists(LocalFileName) {
		return LocalFileName, nil
	}
	return "", nil
}

// readToken returns the FlakeHub credential written by `fh login`, if any.
func readToken() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	data, err := os.ReadFile(filepath.Join(base, "flakehub", "auth"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Validate checks values no type can express.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if _, _, err := c.Frontend(); err != nil {
		return err
	}
	for i, m := range c.Mappings {
		if _, _, err := m.parse(); err != nil {
			return fmt.Errorf("mappings[%d]: %w", i, err)
		}
	}
	return nil
}

func (m Mapping) parse() (flake.VcsRef, flake.ProjectRef, error) {
	repo, ok := flake.Classify(m.Source).(flake.VcsRef)
	if !ok || repo.Pin != "" {
		return flake.VcsRef{}, flake.ProjectRef{}, fmt.Errorf("source %q is not an unpinned forge reference such as github:owner/repo", m.Source)
	}
	org, project, ok := strings.Cut(m.Registry, "/")
	if !ok || org == "" || project == "" || strings.Contains(project, "/") {
		return flake.VcsRef{}, flake.ProjectRef{}, fmt.Errorf("registry %q is not of the form Org/project", m.Registry)
	}
	return repo, flake.ProjectRef{Org: org, Project: project}, nil
}

// Frontend splits the frontend address into the scheme and host written
// into registry URLs.
func (c *Config) Frontend() (scheme, host string, err error) {
	u, err := url.Parse(c.FrontendAddr)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("frontend_addr %q is not an absolute URL", c.FrontendAddr)
	}
	return u.Scheme, u.Host, nil
}

// StaticLookup returns a lookup answering from the configured mappings in
// both directions, writing URLs against the frontend address. Callers may
// add registry answers on top.
func (c *Config) StaticLookup() (*flake.StaticLookup, error) {
	scheme, host, err := c.Frontend()
	if err != nil {
		return nil, err
	}
	lookup := flake.NewStaticLookup()
	lookup.SetFrontend(scheme, host)
	for i, m := range c.Mappings {
		repo, project, err := m.parse()
		if err != nil {
			return nil, fmt.Errorf("mappings[%d]: %w", i, err)
		}
		lookup.AddProject(repo, project)
		lookup.AddSource(project, flake.WildcardAny(), repo)
	}
	return lookup, nil
}
