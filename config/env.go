package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	envAPIKey  = "DEEPSEEK_API_KEY"
	envBaseURL = "DEEPSEEK_BASE_URL"
	envModel   = "DEEPSEEK_MODEL"
)

// LoadEnvFiles loads variables from the given .env files, first file first.
// Variables already set in the process environment are never overwritten,
// so earlier files take precedence over later ones. Missing files are skipped.
func LoadEnvFiles(logger zerolog.Logger, envFiles ...string) {
	for _, envFile := range envFiles {
		path := ExpandPath(envFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to load env file")
			continue
		}
		logger.Debug().Str("path", path).Msg("Loaded environment variables")
	}
}

// applyEnvOverrides lets DEEPSEEK_* variables win over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envAPIKey); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv(envBaseURL); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv(envModel); v != "" {
		cfg.LLM.Model = v
	}
}
