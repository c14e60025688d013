package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Providers understood by the completion layer.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Debounce bounds accepted in configuration files.
const (
	MinDebounce = 150 * time.Millisecond
	MaxDebounce = 300 * time.Millisecond
)

// MaxRetries caps the max_retries setting.
const MaxRetries = 10

// Environment variables read after the files are merged.
const (
	EnvAPIKey   = "SNEK_API_KEY"
	EnvAPIURL   = "SNEK_API_URL"
	EnvModel    = "SNEK_MODEL"
	EnvProvider = "SNEK_PROVIDER"
)

// Config holds all configurable snek settings.
type Config struct {
	Provider       string        `yaml:"provider"` // "openai" | "gemini"
	APIURL         string        `yaml:"api_url"`  // chat completions endpoint, openai only
	Model          string        `yaml:"model"`
	APIKeyEnv      string        `yaml:"api_key_env"` // variable holding the API key
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"` // openai only; negative disables retries
	Debounce       time.Duration `yaml:"debounce"`
	LogLevel       string        `yaml:"log_level"`

	// APIKey is resolved from the environment, never read from a file.
	APIKey string `yaml:"-"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		Provider:       ProviderOpenAI,
		APIKeyEnv:      EnvAPIKey,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     2,
		Debounce:       200 * time.Millisecond,
		LogLevel:       "info",
	}
}

// GlobalPath returns $XDG_CONFIG_HOME/snek/config.yaml, falling back to
// ~/.config/snek/config.yaml.
func GlobalPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "snek", "config.yaml"), nil
}

// LoadGlobal reads the user's config file.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// LoadProject reads config.yaml inside the workspace root.
// Returns nil (no error) if the file is absent.
func LoadProject(root string) (*Config, error) {
	return loadFile(filepath.Join(root, "config.yaml"), false)
}

func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	for _, layer := range []*Config{global, project} {
		if layer == nil {
			continue
		}
		overlay(&result, layer)
	}
	return result
}

func overlay(dst, src *Config) {
	if src.Provider != "" {
		dst.Provider = src.Provider
	}
	if src.APIURL != "" {
		dst.APIURL = src.APIURL
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.APIKeyEnv != "" {
		dst.APIKeyEnv = src.APIKeyEnv
	}
	if src.RequestTimeout != 0 {
		dst.RequestTimeout = src.RequestTimeout
	}
	if src.MaxRetries != 0 {
		dst.MaxRetries = src.MaxRetries
	}
	if src.Debounce != 0 {
		dst.Debounce = src.Debounce
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}

// ApplyEnv overrides cfg with SNEK_* variables and resolves the API key from
// the variable named by APIKeyEnv, falling back to SNEK_API_KEY.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvProvider); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Model = v
	}
	cfg.APIKey = os.Getenv(cfg.APIKeyEnv)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvAPIKey)
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown provider %q (want %q or %q)", c.Provider, ProviderOpenAI, ProviderGemini)
	}
	if c.Debounce < MinDebounce || c.Debounce > MaxDebounce {
		return fmt.Errorf("debounce %s outside [%s, %s]", c.Debounce, MinDebounce, MaxDebounce)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.MaxRetries > MaxRetries {
		return fmt.Errorf("max_retries %d above %d", c.MaxRetries, MaxRetries)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Load reads, merges and validates the configuration for the workspace at
// root. An empty root skips the project layer.
func Load(root string) (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Config{}, err
	}
	var project *Config
	if root != "" {
		if project, err = LoadProject(root); err != nil {
			return Config{}, err
		}
	}
	cfg := Merge(global, project)
	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
