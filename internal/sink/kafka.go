package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Log-Tools/csv-relay/internal/batching"
	"github.com/Log-Tools/csv-relay/internal/config"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog/log"
)

const (
	DefaultKafkaMaxBatchCount   = 500
	DefaultKafkaMaxBatchBytes   = 1000000 // message.max.bytes default, also the Event Hubs Kafka limit
	DefaultKafkaMessageOverhead = 70      // record header and attributes per message, key length varint included
	kafkaFlushTimeoutMs         = 30000
	queueFullRetryDelay         = 100 * time.Millisecond
)

func init() {
	Register(config.BusKafka, func(cfg config.BusConfig) (Sink, error) {
		producer, err := kafka.NewProducer(ProducerConfigMap(cfg.Kafka))
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		return NewKafkaSink(producer, cfg.Endpoint, limitsFor(DefaultKafkaLimits(), cfg), cfg.KeyByObject), nil
	})
}

// Producer abstracts the confluent Kafka producer
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// DefaultKafkaLimits returns the limits of a stock Kafka topic
func DefaultKafkaLimits() batching.Limits {
	return batching.Limits{
		MaxCount: DefaultKafkaMaxBatchCount,
		MaxBytes: DefaultKafkaMaxBatchBytes,
		Overhead: DefaultKafkaMessageOverhead,
	}
}

// ClientConfigMap returns the connection and security settings shared by producers, consumers and admin clients
func ClientConfigMap(k config.KafkaConfig) *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers": k.Brokers,
	}
	if k.SecurityProtocol != "" {
		cm.SetKey("security.protocol", k.SecurityProtocol)
	}
	if k.SASLMechanism != "" {
		cm.SetKey("sasl.mechanisms", k.SASLMechanism)
		cm.SetKey("sasl.username", k.SASLUsername)
		cm.SetKey("sasl.password", k.SASLPassword)
	}
	return cm
}

// ProducerConfigMap returns producer settings; extra producer_config keys override the defaults
func ProducerConfigMap(k config.KafkaConfig) *kafka.ConfigMap {
	cm := ClientConfigMap(k)
	cm.SetKey("acks", k.Acks)
	cm.SetKey("linger.ms", 5)
	cm.SetKey("retries", 2147483647)
	cm.SetKey("retry.backoff.ms", 100)
	cm.SetKey("delivery.timeout.ms", k.DeliveryTimeoutMs)
	cm.SetKey("max.in.flight.requests.per.connection", 5)
	for key, value := range k.ProducerConfig {
		cm.SetKey(key, value)
	}
	return cm
}

// KafkaSink publishes batches to one Kafka topic through librdkafka.
// Each SendBatch waits for the delivery report of every message it produced.
type KafkaSink struct {
	producer    Producer
	topic       string
	limits      batching.Limits
	keyByObject bool
}

// NewKafkaSink creates a sink over an existing producer
func NewKafkaSink(producer Producer, topic string, limits batching.Limits, keyByObject bool) *KafkaSink {
	limits.Keyed = keyByObject
	s := &KafkaSink{
		producer:    producer,
		topic:       topic,
		limits:      limits,
		keyByObject: keyByObject,
	}
	go s.handleProducerEvents(producer.Events())
	return s
}

// Name returns the sink name
func (s *KafkaSink) Name() string {
	return "kafka:" + s.topic
}

// Limits returns the batch limits
func (s *KafkaSink) Limits() batching.Limits {
	return s.limits
}

// SendBatch produces every message of the batch and waits for all delivery reports
func (s *KafkaSink) SendBatch(ctx context.Context, batch batching.Batch) error {
	deliveryChan := make(chan kafka.Event, len(batch.Messages))
	key := messageKey(s.keyByObject, batch)

	produced := 0
	var produceErr error
	for _, payload := range batch.Messages {
		msg := &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
			Key:            key,
			Value:          []byte(payload),
		}
		if produceErr = s.produce(ctx, msg, deliveryChan); produceErr != nil {
			break
		}
		produced++
	}

	failed := 0
	var deliveryErr error
	for i := 0; i < produced; i++ {
		select {
		case e := <-deliveryChan:
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				failed++
				if deliveryErr == nil {
					deliveryErr = m.TopicPartition.Error
				}
			}
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for %d delivery report(s) to %s: %w", produced-i, s.topic, ctx.Err())
		}
	}

	if produceErr != nil {
		return fmt.Errorf("failed to produce message %d/%d to %s: %w", produced+1, len(batch.Messages), s.topic, produceErr)
	}
	if deliveryErr != nil {
		return fmt.Errorf("%d of %d message(s) not delivered to %s: %w", failed, produced, s.topic, deliveryErr)
	}
	return nil
}

// produce enqueues one message, waiting for room when the local queue is full
func (s *KafkaSink) produce(ctx context.Context, msg *kafka.Message, deliveryChan chan kafka.Event) error {
	for {
		err := s.producer.Produce(msg, deliveryChan)
		if err == nil {
			return nil
		}

		var kafkaErr kafka.Error
		if !errors.As(err, &kafkaErr) || kafkaErr.Code() != kafka.ErrQueueFull {
			return err
		}

		log.Debug().Str("topic", s.topic).Msg("Producer queue full, flushing")
		s.producer.Flush(int(queueFullRetryDelay.Milliseconds()))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// handleProducerEvents logs client-level errors; per-message reports go to per-batch channels
func (s *KafkaSink) handleProducerEvents(events chan kafka.Event) {
	for e := range events {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				log.Error().Err(ev.TopicPartition.Error).Str("topic", s.topic).Msg("❌ Delivery failed")
			}
		case kafka.Error:
			log.Error().Err(ev).Str("topic", s.topic).Msg("❌ Kafka producer error")
		}
	}
}

// Close flushes outstanding messages and closes the producer
func (s *KafkaSink) Close() error {
	remaining := s.producer.Flush(kafkaFlushTimeoutMs)
	s.producer.Close()
	if remaining > 0 {
		return fmt.Errorf("%d message(s) to %s were not delivered before close", remaining, s.topic)
	}
	return nil
}
