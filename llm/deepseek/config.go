package deepseek

import (
	"net/http"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	// APIKeyEnv is consulted when no API key is configured explicitly.
	APIKeyEnv = "DEEPSEEK_API_KEY"

	DefaultBaseURL      = "https://api.deepseek.com/v1"
	DefaultModel        = "deepseek-chat"
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 1000
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = time.Second
	DefaultTimeout      = 60 * time.Second
	DefaultCacheMaxSize = 50
	DefaultCacheTTL     = time.Hour
)

// Config holds the client-level defaults. Zero fields are replaced by the
// package defaults when the client is constructed.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float64
	MaxTokens    int
	MaxRetries   int
	RetryDelay   time.Duration
	Timeout      time.Duration
	CacheMaxSize int
	CacheTTL     time.Duration
}

// ConfigUpdate is a partial configuration. Nil fields keep their current value.
type ConfigUpdate struct {
	APIKey      *string
	BaseURL     *string
	Model       *string
	Temperature *float64
	MaxTokens   *int
	MaxRetries  *int
	RetryDelay  *time.Duration
	Timeout     *time.Duration
}

// DefaultConfig returns the configuration used for unset fields.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		MaxRetries:   DefaultMaxRetries,
		RetryDelay:   DefaultRetryDelay,
		Timeout:      DefaultTimeout,
		CacheMaxSize: DefaultCacheMaxSize,
		CacheTTL:     DefaultCacheTTL,
	}
}

func withDefaults(cfg Config) Config {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Model = strings.TrimSpace(cfg.Model)
	// mergo only fills zero-valued fields here, so explicit values win.
	_ = mergo.Merge(&cfg, DefaultConfig()) //nolint:errcheck // both operands are the same struct type
	return cfg
}

func (u ConfigUpdate) apply(cfg *Config) {
	if u.APIKey != nil {
		cfg.APIKey = strings.TrimSpace(*u.APIKey)
	}
	if u.BaseURL != nil && strings.TrimSpace(*u.BaseURL) != "" {
		cfg.BaseURL = strings.TrimRight(strings.TrimSpace(*u.BaseURL), "/")
	}
	if u.Model != nil && strings.TrimSpace(*u.Model) != "" {
		cfg.Model = strings.TrimSpace(*u.Model)
	}
	if u.Temperature != nil {
		cfg.Temperature = *u.Temperature
	}
	if u.MaxTokens != nil && *u.MaxTokens > 0 {
		cfg.MaxTokens = *u.MaxTokens
	}
	if u.MaxRetries != nil && *u.MaxRetries >= 0 {
		cfg.MaxRetries = *u.MaxRetries
	}
	if u.RetryDelay != nil && *u.RetryDelay >= 0 {
		cfg.RetryDelay = *u.RetryDelay
	}
	if u.Timeout != nil && *u.Timeout > 0 {
		cfg.Timeout = *u.Timeout
	}
}

func (c Config) resolvedAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return strings.TrimSpace(os.Getenv(APIKeyEnv))
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the logger used for request and retry diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With().Str("component", "deepseekClient").Logger()
	}
}

// WithClock overrides the time source used for cache timestamps and status
// updates (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithBackoffTimer overrides the timer used to wait between retry attempts
// (useful for tests).
func WithBackoffTimer(timer backoff.Timer) Option {
	return func(c *Client) {
		c.timer = timer
	}
}

// WithUsageRecorder records token usage after each successful request.
func WithUsageRecorder(recorder UsageRecorder) Option {
	return func(c *Client) {
		c.usage = recorder
	}
}
