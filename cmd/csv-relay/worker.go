package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Log-Tools/csv-relay/internal/config"
	"github.com/Log-Tools/csv-relay/internal/ingestion"
	"github.com/Log-Tools/csv-relay/internal/metrics"
	"github.com/Log-Tools/csv-relay/internal/relay"
	"github.com/Log-Tools/csv-relay/internal/service"
	"github.com/Log-Tools/csv-relay/internal/sink"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	workerGroup string
	workerShard int
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume BlobCreated notifications and relay every new object",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.ModeWorker, func(c *config.Config) {
			if workerGroup != "" {
				c.Worker.ConsumerGroup = workerGroup
			}
			if cmd.Flags().Changed("shard") {
				c.Worker.Sharding.Enabled = true
				c.Worker.Sharding.ShardNumber = workerShard
			}
		})
		if err != nil {
			return err
		}
		return runWorker(cfg)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerGroup, "group", "", "Kafka consumer group (overrides config)")
	workerCmd.Flags().IntVar(&workerShard, "shard", 0, "0-based shard number; enables sharding with shards_count from config")
}

func runWorker(cfg *config.Config) error {
	log.Info().
		Str("bus", cfg.Bus.Type).
		Str("endpoint", cfg.Bus.Endpoint).
		Str("events_topic", cfg.Worker.EventsTopic).
		Msg("⚙️ Running in worker mode")

	ctx, cancel := signalContext()
	defer cancel()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		server := m.Serve(cfg.Metrics.Addr)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	snk, err := sink.New(cfg.Bus)
	if err != nil {
		return err
	}
	defer snk.Close()

	handler, err := newHandler(cfg, snk, m)
	if err != nil {
		return err
	}

	storageFactory, err := ingestion.NewAzureStorageClientFactory(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage factory: %w", err)
	}

	reporter, closeReporter, err := newStatusReporter(cfg)
	if err != nil {
		return err
	}
	defer closeReporter()

	consumer, err := kafka.NewConsumer(consumerConfigMap(cfg.Kafka, cfg.Worker.ConsumerGroup))
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	worker, err := service.NewRelayWorker(
		cfg,
		&kafkaConsumerAdapter{consumer: consumer},
		ingestion.NewBlobProcessor(storageFactory, handler),
		reporter,
		snk.Name(),
		m,
	)
	if err != nil {
		consumer.Close()
		return fmt.Errorf("failed to create relay worker: %w", err)
	}

	workerErr := worker.Start(ctx)

	// Clean up resources after worker stops
	log.Info().Msg("🧹 Cleaning up Kafka connections...")
	if err := consumer.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close consumer")
	}

	return workerErr
}

func newHandler(cfg *config.Config, snk sink.Sink, m *metrics.Metrics) (*relay.Handler, error) {
	return relay.NewHandler(snk, relay.Options{
		Column:         cfg.Relay.Column,
		Comma:          cfg.Relay.Comma(),
		MaxObjectBytes: cfg.Relay.MaxObjectBytes,
	}, m)
}

// newStatusReporter creates the status producer; an empty status topic disables it
func newStatusReporter(cfg *config.Config) (ingestion.StatusReporter, func(), error) {
	if cfg.Worker.StatusTopic == "" {
		log.Info().Msg("Status events disabled")
		return ingestion.NewKafkaStatusReporter(nil, ""), func() {}, nil
	}

	producer, err := kafka.NewProducer(sink.ProducerConfigMap(cfg.Kafka))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create status producer: %w", err)
	}

	closeProducer := func() {
		if remaining := producer.Flush(10000); remaining > 0 {
			log.Warn().Int("remaining", remaining).Msg("⚠️ Status events not flushed before close")
		}
		producer.Close()
	}
	return ingestion.NewKafkaStatusReporter(producer, cfg.Worker.StatusTopic), closeProducer, nil
}

// consumerConfigMap returns consumer settings; offsets are committed by the worker only
func consumerConfigMap(k config.KafkaConfig, group string) *kafka.ConfigMap {
	cm := sink.ClientConfigMap(k)
	cm.SetKey("group.id", group)
	cm.SetKey("auto.offset.reset", k.Consumer.AutoOffsetReset)
	cm.SetKey("session.timeout.ms", k.Consumer.SessionTimeout)
	cm.SetKey("enable.auto.commit", false)
	return cm
}

// kafkaConsumerAdapter adapts Kafka consumer to our interface
type kafkaConsumerAdapter struct {
	consumer *kafka.Consumer
}

func (a *kafkaConsumerAdapter) Subscribe(topics []string, rebalanceCb kafka.RebalanceCb) error {
	return a.consumer.SubscribeTopics(topics, rebalanceCb)
}

func (a *kafkaConsumerAdapter) Poll(timeoutMs int) kafka.Event {
	return a.consumer.Poll(timeoutMs)
}

func (a *kafkaConsumerAdapter) CommitMessage(msg *kafka.Message) ([]kafka.TopicPartition, error) {
	return a.consumer.CommitMessage(msg)
}

func (a *kafkaConsumerAdapter) Seek(partition kafka.TopicPartition, ignoredTimeoutMs int) error {
	return a.consumer.Seek(partition, ignoredTimeoutMs)
}

func (a *kafkaConsumerAdapter) Close() error {
	return a.consumer.Close()
}
