// Package config provides client configuration management with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (AGENTSTREAM_*, runtime override)
//  2. Config file (~/.agentstream/config.yaml)
//  3. Default values
//
// Security: the API token is never logged; MarshalJSON masks it. The config
// directory is created with 0750 permissions.
//
// Error handling uses sentinel errors checked with errors.Is and wrapped with
// fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingBaseURL indicates no API base URL is configured.
	ErrMissingBaseURL = errors.New("missing base URL")

	// ErrInvalidBaseURL indicates the base URL is not a valid http(s) URL.
	ErrInvalidBaseURL = errors.New("invalid base URL")

	// ErrInvalidPageSize indicates the page size is out of range.
	ErrInvalidPageSize = errors.New("invalid page size")

	// ErrInvalidTimeout indicates the request timeout is negative.
	ErrInvalidTimeout = errors.New("invalid request timeout")

	// ErrInvalidRateLimit indicates the rate limit values are inconsistent.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

const (
	// DefaultPageSize is the default number of conversations or messages
	// fetched per page.
	DefaultPageSize = 100

	// MaxPageSize is the absolute maximum page size, matching the server's
	// list limit.
	MaxPageSize = 1000

	// DefaultRequestTimeout bounds non-streaming API calls.
	DefaultRequestTimeout = 30 * time.Second

	// configDirName is the per-user configuration directory.
	configDirName = ".agentstream"
)

// Config stores client configuration.
// SECURITY: APIToken is masked in MarshalJSON. When adding new sensitive
// fields, update MarshalJSON.
type Config struct {
	// Collaborator API endpoint and credential.
	BaseURL  string `mapstructure:"base_url" json:"base_url"`
	APIToken string `mapstructure:"api_token" json:"api_token"` // SENSITIVE: masked in MarshalJSON

	// AgentID selects the agent whose conversations this client manages.
	AgentID int64 `mapstructure:"agent_id" json:"agent_id"`

	// Request behavior.
	RequestTimeout    time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	PageSize          int           `mapstructure:"page_size" json:"page_size"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" json:"requests_per_second"`
	RequestBurst      int           `mapstructure:"request_burst" json:"request_burst"`

	// Logging.
	LogLevel string `mapstructure:"log_level" json:"log_level"` // debug|info|warn|error
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// OTLPEndpoint enables trace export when set (e.g. "localhost:4318").
	// Empty disables tracing.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`

	// StateDir holds local client state such as the last selected
	// conversation. Defaults to ~/.agentstream.
	StateDir string `mapstructure:"state_dir" json:"state_dir"`
}

// MarshalJSON masks sensitive fields so a dumped config never leaks the
// credential.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // drop methods to avoid recursion
	masked := alias(c)
	if masked.APIToken != "" {
		masked.APIToken = "***"
	}
	return json.Marshal(masked)
}

// Default returns a configuration with all defaults applied and no endpoint
// set. Callers must fill BaseURL (and usually APIToken) before use.
func Default() *Config {
	return &Config{
		RequestTimeout: DefaultRequestTimeout,
		PageSize:       DefaultPageSize,
		LogLevel:       "info",
		StateDir:       defaultStateDir(),
	}
}

// Load reads configuration from defaults, an optional config file and
// environment variables, then validates the result.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("base_url", "")
	v.SetDefault("api_token", "")
	v.SetDefault("agent_id", 0)
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("page_size", DefaultPageSize)
	v.SetDefault("requests_per_second", 0.0)
	v.SetDefault("request_burst", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("state_dir", defaultStateDir())

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir := defaultStateDir(); dir != "" {
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("AGENTSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidBaseURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidBaseURL)
	}
	if c.PageSize < 1 || c.PageSize > MaxPageSize {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidPageSize, MaxPageSize, c.PageSize)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: must not be negative, got %s", ErrInvalidTimeout, c.RequestTimeout)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests per second must not be negative", ErrInvalidRateLimit)
	}
	if c.RequestsPerSecond == 0 && c.RequestBurst > 0 {
		return fmt.Errorf("%w: burst set without a rate", ErrInvalidRateLimit)
	}
	return nil
}

// defaultStateDir returns ~/.agentstream, or empty when the home directory
// cannot be determined.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configDirName)
}
