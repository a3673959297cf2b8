package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv overrides the default config file location.
const ConfigPathEnv = "ABIA_CONFIG_PATH"

// LLMConfig configures the DeepSeek client.
type LLMConfig struct {
	APIKey          string   `yaml:"apiKey,omitempty"`
	BaseURL         string   `yaml:"baseUrl,omitempty"`
	Model           string   `yaml:"model,omitempty"`
	Temperature     *float64 `yaml:"temperature,omitempty"` // pointer so 0 can be set explicitly
	MaxTokens       int      `yaml:"maxTokens,omitempty"`
	MaxRetries      *int     `yaml:"maxRetries,omitempty"` // 0 disables retries
	RetryDelayMs    int      `yaml:"retryDelayMs,omitempty"`
	TimeoutMs       int      `yaml:"timeoutMs,omitempty"`
	CacheMaxSize    int      `yaml:"cacheMaxSize,omitempty"`
	CacheTTLSeconds int      `yaml:"cacheTtlSeconds,omitempty"`
}

// UsageConfig configures the token usage database.
type UsageConfig struct {
	Disabled bool   `yaml:"disabled,omitempty"`
	DBPath   string `yaml:"dbPath,omitempty"` // default: ~/.abia/usage.db
}

// MonitorConfig configures the background connection monitor.
type MonitorConfig struct {
	Schedule string `yaml:"schedule,omitempty"` // e.g. "5m" or "0 */5 * * * *"
	Notify   *bool  `yaml:"notify,omitempty"`   // desktop notification on state change (default: true)
}

// Config is the on-disk configuration file.
type Config struct {
	LLM     LLMConfig     `yaml:"llm,omitempty"`
	Usage   UsageConfig   `yaml:"usage,omitempty"`
	Monitor MonitorConfig `yaml:"monitor,omitempty"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	temperature := 0.7
	maxRetries := 3
	notify := true
	return Config{
		LLM: LLMConfig{
			BaseURL:         "https://api.deepseek.com/v1",
			Model:           "deepseek-chat",
			Temperature:     &temperature,
			MaxTokens:       1000,
			MaxRetries:      &maxRetries,
			RetryDelayMs:    1000,
			TimeoutMs:       60000,
			CacheMaxSize:    50,
			CacheTTLSeconds: 3600,
		},
		Usage: UsageConfig{
			DBPath: "~/.abia/usage.db",
		},
		Monitor: MonitorConfig{
			Schedule: "5m",
			Notify:   &notify,
		},
	}
}

// GetConfigPath returns the config file path, expanding ~ to the home directory.
// Can be overridden via ABIA_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv(ConfigPathEnv); envPath != "" {
		return ExpandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.abia/config.yaml"
	}
	return filepath.Join(homeDir, ".abia", "config.yaml")
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load reads the configuration at path and merges it onto the defaults.
// A missing file yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	expandedPath := ExpandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
		}

		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
		keepExplicitPointers(&cfg, fileCfg)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// keepExplicitPointers copies set pointer fields from the file. mergo
// dereferences pointers and skips zero values, which would drop an explicit
// temperature: 0 or maxRetries: 0.
func keepExplicitPointers(dst *Config, file Config) {
	if file.LLM.Temperature != nil {
		dst.LLM.Temperature = file.LLM.Temperature
	}
	if file.LLM.MaxRetries != nil {
		dst.LLM.MaxRetries = file.LLM.MaxRetries
	}
	if file.Monitor.Notify != nil {
		dst.Monitor.Notify = file.Monitor.Notify
	}
}

// Save writes cfg to path as YAML, creating the directory if needed.
func Save(cfg *Config, path string) error {
	expandedPath := ExpandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may hold an API key.
	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NotifyEnabled reports whether monitor notifications are on.
func (m MonitorConfig) NotifyEnabled() bool {
	return m.Notify == nil || *m.Notify
}
