package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Log-Tools/csv-relay/internal/config"
	"github.com/Log-Tools/csv-relay/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
	busType    string
	endpoint   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "csv-relay",
	Short: "Relay one column of arriving CSV objects to a message bus",
	Long: `Reads CSV objects as they land in blob storage, extracts one column from every row
and publishes the values in size-bounded batches to Event Hubs, Kafka or NATS.

Examples:
  # Relay a local file to stdout
  csv-relay process --file reviews.csv --bus stdout

  # Relay one blob using settings from a config file
  csv-relay process -c configs/relay.example.yaml --container reviews --blob 2024/06/09/reviews.csv

  # Consume BlobCreated notifications and relay every new object
  csv-relay worker -c configs/relay.example.yaml

  # Create the notification and status topics
  csv-relay topics --brokers localhost:9092

  # Follow failed objects
  csv-relay status --failures`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: environment variables)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before reading the environment (default: .env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json, console (overrides config)")
	rootCmd.PersistentFlags().StringVar(&busType, "bus", "", "message bus: eventhubs, kafka, kafka-go, nats, stdout (overrides config)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "hub, topic or subject to publish to (overrides config)")

	rootCmd.AddCommand(processCmd, workerCmd, topicsCmd, checkKafkaCmd, statusCmd, sinksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration for mode and applies the shared flag overrides
func loadConfig(mode string, override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(configPath, func(c *config.Config) {
		c.Mode = mode
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		if logFormat != "" {
			c.LogFormat = logFormat
		}
		if busType != "" {
			c.Bus.Type = busType
		}
		if endpoint != "" {
			c.Bus.Endpoint = endpoint
		}
		if override != nil {
			override(c)
		}
	})
	if err != nil {
		return nil, err
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupToolLogging configures logging for commands that do not read the relay configuration
func setupToolLogging() error {
	format := logFormat
	if format == "" {
		format = "console"
	}
	return logging.Setup(logLevel, format)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("🛑 Received signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
