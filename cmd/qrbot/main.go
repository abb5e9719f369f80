package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"qrbot/internal/app"
	"qrbot/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// flagKeys maps command line flags to the configuration keys they override
var flagKeys = map[string]string{
	"port":       "PORT",
	"mode":       "BOT_MODE",
	"public-url": "WEBHOOK_URL",
	"log-level":  "LOG_LEVEL",
	"log-format": "LOG_FORMAT",
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qrbot",
		Short: "Telegram bot that answers text with a QR code",
		Long: `qrbot receives messages from Telegram, by long polling or through a webhook,
and replies to every text message with a PNG QR code encoding that text.
Configuration is read from the environment and an optional .env file;
flags override the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	// Persistent so that "qrbot --port 9000" and "qrbot serve --port 9000" both work
	fs := cmd.PersistentFlags()
	fs.Int("port", 8080, "HTTP listen port for health, metrics and webhook")
	fs.String("mode", string(config.ModePolling), "update source: polling or webhook")
	fs.String("public-url", "", "public https base URL (webhook mode)")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.String("log-format", "json", "log format: json or console")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Runs the bot (default command)",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		newRenderCommand(),
	)
	return cmd
}

// bindFlags lets explicitly set flags take precedence over the environment
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load .env file if it exists
	envErr := godotenv.Load()

	v := config.NewViper()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		return err
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("Bot stopped with errors", zap.Error(err))
		return err
	}
	return nil
}
