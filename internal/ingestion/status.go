package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Log-Tools/csv-relay/internal/events"
	"github.com/Log-Tools/csv-relay/internal/sink"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog/log"
)

// kafkaStatusReporter publishes status events to a Kafka topic
type kafkaStatusReporter struct {
	producer sink.Producer
	topic    string
}

// NewKafkaStatusReporter creates a reporter; an empty topic disables reporting
func NewKafkaStatusReporter(producer sink.Producer, topic string) StatusReporter {
	if topic == "" || producer == nil {
		return nopStatusReporter{}
	}

	r := &kafkaStatusReporter{producer: producer, topic: topic}

	// Log client-level errors so we can see real broker problems
	go r.handleDeliveryEvents(producer.Events())

	return r
}

// Report sends the event and waits for its delivery report
func (r *kafkaStatusReporter) Report(ctx context.Context, event events.RelayStatusEvent) error {
	messageBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	deliveryChan := make(chan kafka.Event, 1)
	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &r.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Key()),
		Value:          messageBytes,
	}

	if err := r.producer.Produce(message, deliveryChan); err != nil {
		return fmt.Errorf("failed to produce status message: %w", err)
	}

	select {
	case e := <-deliveryChan:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("status message for %s/%s not delivered: %w", event.Container, event.BlobName, m.TopicPartition.Error)
		}
	case <-ctx.Done():
		return fmt.Errorf("status message for %s/%s not confirmed: %w", event.Container, event.BlobName, ctx.Err())
	}

	log.Debug().
		Str("container", event.Container).
		Str("blob", event.BlobName).
		Str("status", event.Status).
		Msg("✅ Status event sent")
	return nil
}

// handleDeliveryEvents handles Kafka events not tied to a delivery channel
func (r *kafkaStatusReporter) handleDeliveryEvents(deliveryChan chan kafka.Event) {
	for e := range deliveryChan {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				log.Error().Err(ev.TopicPartition.Error).Str("key", string(ev.Key)).Msg("❌ Status delivery failed")
			}
		case kafka.Error:
			log.Error().Err(ev).Msg("❌ Kafka producer error")
		}
	}
}

type nopStatusReporter struct{}

func (nopStatusReporter) Report(context.Context, events.RelayStatusEvent) error { return nil }
