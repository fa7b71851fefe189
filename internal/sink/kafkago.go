package sink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Log-Tools/csv-relay/internal/batching"
	"github.com/Log-Tools/csv-relay/internal/config"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

const kafkaGoBatchTimeout = 5 * time.Millisecond

func init() {
	Register(config.BusKafkaGo, func(cfg config.BusConfig) (Sink, error) {
		limits := limitsFor(DefaultKafkaLimits(), cfg)
		writer, err := NewKafkaGoWriter(cfg.Kafka, cfg.Endpoint, limits)
		if err != nil {
			return nil, err
		}
		return NewKafkaGoSink(writer, cfg.Endpoint, limits, cfg.KeyByObject), nil
	})
}

// messageWriter is the part of kafka-go's Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaGoSink publishes batches with the pure Go kafka-go client
type KafkaGoSink struct {
	writer      messageWriter
	topic       string
	limits      batching.Limits
	keyByObject bool
}

// NewKafkaGoWriter builds a synchronous writer. SASL PLAIN and TLS follow the
// security protocol, which lets it talk to the Event Hubs Kafka endpoint.
func NewKafkaGoWriter(k config.KafkaConfig, topic string, limits batching.Limits) (*kafkago.Writer, error) {
	brokers := splitBrokers(k.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka-go sink requires at least one broker address")
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{}, // Partition by key, round-robin when unkeyed
		RequiredAcks: requiredAcks(k.Acks),
		Async:        false,
		// Batches arrive already bounded, so a partial batch must not wait for more messages
		BatchTimeout: kafkaGoBatchTimeout,
	}
	if limits.MaxCount > 0 {
		writer.BatchSize = limits.MaxCount
	}
	if limits.MaxBytes > 0 {
		writer.BatchBytes = int64(limits.MaxBytes)
	}

	transport := &kafkago.Transport{}
	secured := false
	protocol := strings.ToUpper(k.SecurityProtocol)
	if protocol == "SSL" || protocol == "SASL_SSL" {
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		secured = true
	}
	if k.SASLMechanism != "" {
		if !strings.EqualFold(k.SASLMechanism, "PLAIN") {
			return nil, fmt.Errorf("kafka-go sink supports SASL PLAIN only, got %s", k.SASLMechanism)
		}
		transport.SASL = plain.Mechanism{Username: k.SASLUsername, Password: k.SASLPassword}
		secured = true
	}
	if secured {
		writer.Transport = transport
	}

	return writer, nil
}

// NewKafkaGoSink creates a sink over an existing writer
func NewKafkaGoSink(writer messageWriter, topic string, limits batching.Limits, keyByObject bool) *KafkaGoSink {
	limits.Keyed = keyByObject
	return &KafkaGoSink{
		writer:      writer,
		topic:       topic,
		limits:      limits,
		keyByObject: keyByObject,
	}
}

// Name returns the sink name
func (s *KafkaGoSink) Name() string {
	return "kafka-go:" + s.topic
}

// Limits returns the batch limits
func (s *KafkaGoSink) Limits() batching.Limits {
	return s.limits
}

// SendBatch writes the batch in one synchronous call
func (s *KafkaGoSink) SendBatch(ctx context.Context, batch batching.Batch) error {
	key := messageKey(s.keyByObject, batch)
	msgs := make([]kafkago.Message, len(batch.Messages))
	for i, payload := range batch.Messages {
		msgs[i] = kafkago.Message{Key: key, Value: []byte(payload)}
	}

	err := s.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return nil
	}

	var writeErrs kafkago.WriteErrors
	if errors.As(err, &writeErrs) {
		return fmt.Errorf("%d of %d message(s) not written to %s: %w", writeErrs.Count(), len(msgs), s.topic, err)
	}
	return fmt.Errorf("failed to write batch to %s: %w", s.topic, err)
}

// Close flushes and closes the writer
func (s *KafkaGoSink) Close() error {
	return s.writer.Close()
}

func requiredAcks(acks string) kafkago.RequiredAcks {
	switch acks {
	case "0":
		return kafkago.RequireNone
	case "1":
		return kafkago.RequireOne
	default:
		return kafkago.RequireAll
	}
}

func splitBrokers(brokers string) []string {
	var result []string
	for _, b := range strings.Split(brokers, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
