package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/abia-desktop/abia/config"
	"github.com/abia-desktop/abia/llm/deepseek"
	abialogger "github.com/abia-desktop/abia/logger"
	"github.com/abia-desktop/abia/usage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	config   string
	logFile  string
	pretty   bool
	envFiles []string
}

// commandContext lazily builds the shared dependencies of a command run.
type commandContext struct {
	flags *globalFlags

	logger     zerolog.Logger
	configPath string
	config     *config.Config

	usage  *usage.Store
	client *deepseek.Client
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags, logger: zerolog.Nop()}
}

func (c *commandContext) init() error {
	if c.flags.logFile != "" && c.flags.pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := abialogger.InitWithOptions(c.flags.logFile, c.flags.pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger

	config.LoadEnvFiles(c.logger, c.flags.envFiles...)

	c.configPath = strings.TrimSpace(c.flags.config)
	if c.configPath == "" {
		c.configPath = config.GetConfigPath()
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	c.config = cfg
	c.logger.Debug().Str("path", c.configPath).Msg("Loaded configuration")
	return nil
}

// usageStore opens the token usage database unless it is disabled.
func (c *commandContext) usageStore() (*usage.Store, error) {
	if c.usage != nil || c.config.Usage.Disabled {
		return c.usage, nil
	}
	store, err := usage.Open(config.ExpandPath(c.config.Usage.DBPath), c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}
	c.usage = store
	return store, nil
}

// deepseekClient builds the client and fails early when no API key is set.
// Usage recording is best effort: a broken database only logs a warning.
func (c *commandContext) deepseekClient() (*deepseek.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	var opts []deepseek.Option
	store, err := c.usageStore()
	switch {
	case err != nil:
		c.logger.Warn().Err(err).Msg("Token usage will not be recorded")
	case store != nil:
		opts = append(opts, deepseek.WithUsageRecorder(store))
	}

	client := config.NewDeepSeekClient(c.config, c.logger, opts...)
	if !client.IsConfigured() {
		return nil, fmt.Errorf("no API key: set %s or llm.apiKey in %s", deepseek.APIKeyEnv, c.configPath)
	}
	c.client = client
	return client, nil
}

func (c *commandContext) close() {
	if c.usage == nil {
		return
	}
	if err := c.usage.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close usage database")
	}
	c.usage = nil
}

// readInput joins args, or reads stdin when there are none or the only arg is "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("no input: pass text as arguments or on stdin")
	}
	return text, nil
}
