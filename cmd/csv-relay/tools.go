package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Log-Tools/csv-relay/internal/admin"
	"github.com/Log-Tools/csv-relay/internal/config"
	"github.com/Log-Tools/csv-relay/internal/events"
	"github.com/Log-Tools/csv-relay/internal/sink"
	"github.com/Log-Tools/csv-relay/internal/tail"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	brokers      string
	topicsFile   string
	topicsDryRun bool
	verbose      bool
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Create the Kafka topics listed in a topic file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setupToolLogging(); err != nil {
			return err
		}

		tf, err := admin.LoadTopicFile(topicsFile)
		if err != nil {
			return err
		}

		if topicsDryRun {
			admin.DryRun(cmd.OutOrStdout(), tf, verbose)
			return nil
		}

		adminClient, err := kafka.NewAdminClient(sink.ClientConfigMap(toolKafkaConfig()))
		if err != nil {
			return fmt.Errorf("failed to create admin client: %w", err)
		}
		defer adminClient.Close()

		if verbose {
			log.Info().Str("brokers", brokers).Msg("🔗 Connecting to Kafka brokers")
		}

		_, err = admin.EnsureTopics(context.Background(), adminClient, tf)
		return err
	},
}

var checkKafkaCmd = &cobra.Command{
	Use:   "check-kafka",
	Short: "Test the connection to a Kafka cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setupToolLogging(); err != nil {
			return err
		}
		if err := testKafkaConnection(toolKafkaConfig()); err != nil {
			return fmt.Errorf("kafka connection test failed: %w", err)
		}
		log.Info().Msg("✅ Kafka connection test successful")
		return nil
	},
}

var (
	statusTopic     string
	statusGroup     string
	statusContainer string
	statusFilter    string
	statusFailures  bool
	statusFormat    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Tail relay status events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setupToolLogging(); err != nil {
			return err
		}

		cm := sink.ClientConfigMap(toolKafkaConfig())
		cm.SetKey("group.id", statusGroup)
		cm.SetKey("auto.offset.reset", "latest")
		cm.SetKey("enable.auto.commit", true)

		consumer, err := kafka.NewConsumer(cm)
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		defer consumer.Close()

		tailer, err := tail.NewStatusTailer(consumer, statusTopic, tail.FilterOptions{
			Container:    statusContainer,
			Status:       statusFilter,
			FailuresOnly: statusFailures,
			OutputFormat: statusFormat,
		}, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		return tailer.Start(ctx)
	},
}

var sinksCmd = &cobra.Command{
	Use:   "sinks",
	Short: "List the message bus types this build can publish to",
	Run: func(cmd *cobra.Command, args []string) {
		for _, kind := range sink.Kinds() {
			fmt.Fprintln(cmd.OutOrStdout(), kind)
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{topicsCmd, checkKafkaCmd, statusCmd} {
		c.Flags().StringVar(&brokers, "brokers", "", "Kafka brokers (default: KAFKA_BROKERS or localhost:9092)")
		c.Flags().BoolVar(&verbose, "verbose", false, "show detailed output")
	}
	topicsCmd.Flags().StringVar(&topicsFile, "file", "configs/kafka_topics.yaml", "path to the topic definition file")
	topicsCmd.Flags().BoolVar(&topicsDryRun, "dry-run", false, "show what would be created without creating topics")

	statusCmd.Flags().StringVar(&statusTopic, "topic", events.TopicRelayStatus, "status topic")
	statusCmd.Flags().StringVarP(&statusGroup, "consumer-group", "g", "csv-relay-status-cli", "Kafka consumer group ID")
	statusCmd.Flags().StringVar(&statusContainer, "container", "", "only show objects from this container")
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "only show this status: published, no_eligible_records, failed")
	statusCmd.Flags().BoolVar(&statusFailures, "failures", false, "only show failed objects")
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "text", "output format: text, json")
}

// toolKafkaConfig builds connection settings from flags and KAFKA_* variables
func toolKafkaConfig() config.KafkaConfig {
	k := config.KafkaConfig{
		Brokers:          brokers,
		SecurityProtocol: os.Getenv("KAFKA_SECURITY_PROTOCOL"),
		SASLMechanism:    os.Getenv("KAFKA_SASL_MECHANISM"),
		SASLUsername:     os.Getenv("KAFKA_SASL_USERNAME"),
		SASLPassword:     os.Getenv("KAFKA_SASL_PASSWORD"),
	}
	if k.Brokers == "" {
		k.Brokers = os.Getenv("KAFKA_BROKERS")
	}
	if k.Brokers == "" {
		k.Brokers = "localhost:9092"
	}
	return k
}

// testKafkaConnection tests the connection to Kafka
func testKafkaConnection(k config.KafkaConfig) error {
	log.Info().Str("brokers", k.Brokers).Msg("🔍 Testing Kafka connection")

	producer, err := kafka.NewProducer(sink.ClientConfigMap(k))
	if err != nil {
		return fmt.Errorf("failed to create test producer: %w", err)
	}
	defer producer.Close()

	// Get metadata to test connection
	metadata, err := producer.GetMetadata(nil, true, 5000)
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}

	log.Info().Int("brokers", len(metadata.Brokers)).Int("topics", len(metadata.Topics)).Msg("✅ Connected to Kafka cluster")
	for _, broker := range metadata.Brokers {
		log.Info().Int32("id", broker.ID).Str("host", broker.Host).Int("port", broker.Port).Msg("  - Broker")
	}
	if verbose {
		for name := range metadata.Topics {
			log.Info().Str("topic", name).Msg("  - Topic")
		}
	}

	return nil
}
