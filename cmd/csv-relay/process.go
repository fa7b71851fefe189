package main

import (
	"context"
	"fmt"

	"github.com/Log-Tools/csv-relay/internal/config"
	"github.com/Log-Tools/csv-relay/internal/ingestion"
	"github.com/Log-Tools/csv-relay/internal/relay"
	"github.com/Log-Tools/csv-relay/internal/sink"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	processFile      string
	processContainer string
	processBlob      string
	processColumn    string
	processDelimiter string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Relay a single blob or local file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.ModeCLI, func(c *config.Config) {
			if processFile != "" {
				c.CLI.File = processFile
			}
			if processContainer != "" {
				c.CLI.Container = processContainer
			}
			if processBlob != "" {
				c.CLI.Blob = processBlob
			}
			if processColumn != "" {
				c.Relay.Column = processColumn
			}
			if processDelimiter != "" {
				c.Relay.Delimiter = processDelimiter
			}
		})
		if err != nil {
			return err
		}
		return runProcess(cmd, cfg)
	},
}

func init() {
	processCmd.Flags().StringVar(&processFile, "file", "", "local CSV file to relay instead of a blob")
	processCmd.Flags().StringVar(&processContainer, "container", "", "blob container (default: storage.container)")
	processCmd.Flags().StringVar(&processBlob, "blob", "", "blob name within the container")
	processCmd.Flags().StringVar(&processColumn, "column", "", "CSV column to relay (default: text)")
	processCmd.Flags().StringVar(&processDelimiter, "delimiter", "", "CSV field delimiter (default: ,)")
}

func runProcess(cmd *cobra.Command, cfg *config.Config) error {
	log.Info().Str("bus", cfg.Bus.Type).Str("endpoint", cfg.Bus.Endpoint).Msg("🔧 Running in CLI mode")

	ctx, cancel := signalContext()
	defer cancel()

	snk, err := sink.New(cfg.Bus)
	if err != nil {
		return err
	}
	defer snk.Close()

	handler, err := newHandler(cfg, snk, nil)
	if err != nil {
		return err
	}

	var result *relay.Result
	if cfg.CLI.File != "" {
		result, err = ingestion.ProcessFile(ctx, handler, cfg.CLI.File)
	} else {
		result, err = relayBlob(ctx, cfg, handler)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", relay.Classify(err), err)
	}

	log.Info().
		Str("outcome", string(result.Outcome)).
		Int("rows", result.RowsRead).
		Int("skipped", result.RowsSkipped).
		Int("messages", result.Messages).
		Int("batches", result.Batches).
		Str("bus", snk.Name()).
		Msg("✅ Object relayed")

	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d message(s) in %d batch(es) to %s\n",
		result.Outcome, result.Messages, result.Batches, snk.Name())
	return nil
}

func relayBlob(ctx context.Context, cfg *config.Config, handler *relay.Handler) (*relay.Result, error) {
	container := cfg.CLI.Container
	if container == "" {
		container = cfg.Storage.Container
	}

	storageFactory, err := ingestion.NewAzureStorageClientFactory(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage factory: %w", err)
	}

	processor := ingestion.NewBlobProcessor(storageFactory, handler)
	return processor.ProcessObject(ctx, ingestion.ObjectInfo{ContainerName: container, BlobName: cfg.CLI.Blob})
}
