package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LevelEnv selects the log level (trace, debug, info, warn, error, disabled).
const LevelEnv = "LOG_LEVEL"

// InitWithOptions builds the process logger.
// If logFile is set, JSON logs are appended to it. Otherwise logs go to
// stderr so command output on stdout stays clean; pretty switches stderr to
// the human-readable console writer.
func InitWithOptions(logFile string, pretty bool) (zerolog.Logger, error) {
	level := parseLogLevel(os.Getenv(LevelEnv))

	var output io.Writer
	switch {
	case logFile != "":
		//nolint:gosec // G304: User-specified log file path is intentional
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		output = file
	case pretty:
		output = zerolog.ConsoleWriter{Out: os.Stderr}
	default:
		output = os.Stderr
	}

	log := New(output, level)
	log.Debug().
		Str("output", describeOutput(logFile, pretty)).
		Str("level", level.String()).
		Msg("Logger initialized")
	return log, nil
}

// New returns a timestamped logger writing to w at level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func describeOutput(logFile string, pretty bool) string {
	switch {
	case logFile != "":
		return logFile
	case pretty:
		return "stderr (pretty)"
	default:
		return "stderr"
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
