package config

import (
	"time"

	"github.com/abia-desktop/abia/llm/deepseek"
	"github.com/rs/zerolog"
)

// DeepSeekConfig converts the llm section into the client configuration.
func (c LLMConfig) DeepSeekConfig() deepseek.Config {
	return deepseek.Config{
		APIKey:       c.APIKey,
		BaseURL:      c.BaseURL,
		Model:        c.Model,
		MaxTokens:    c.MaxTokens,
		RetryDelay:   time.Duration(c.RetryDelayMs) * time.Millisecond,
		Timeout:      time.Duration(c.TimeoutMs) * time.Millisecond,
		CacheMaxSize: c.CacheMaxSize,
		CacheTTL:     time.Duration(c.CacheTTLSeconds) * time.Second,
	}
}

// NewDeepSeekClient creates a DeepSeek client from the configuration.
// Temperature and MaxRetries are applied after construction so that an
// explicit 0 is honoured instead of being replaced by the client default.
func NewDeepSeekClient(cfg *Config, logger zerolog.Logger, opts ...deepseek.Option) *deepseek.Client {
	if cfg == nil {
		d := Defaults()
		cfg = &d
	}
	all := append([]deepseek.Option{deepseek.WithLogger(logger)}, opts...)
	client := deepseek.New(cfg.LLM.DeepSeekConfig(), all...)
	client.Configure(deepseek.ConfigUpdate{
		Temperature: cfg.LLM.Temperature,
		MaxRetries:  cfg.LLM.MaxRetries,
	})
	return client
}
