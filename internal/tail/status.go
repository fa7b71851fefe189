// Package tail follows the relay status topic for operators.
package tail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Log-Tools/csv-relay/internal/events"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog/log"
)

// MessageReader is the part of the Kafka consumer used for tailing
type MessageReader interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
}

// FilterOptions represents filtering options for status consumption
type FilterOptions struct {
	Container    string
	Status       string
	FailuresOnly bool
	OutputFormat string // json, text
}

// StatusTailer prints status events as they arrive
type StatusTailer struct {
	reader MessageReader
	topic  string
	opts   FilterOptions
	out    io.Writer
}

// NewStatusTailer creates a tailer writing to out
func NewStatusTailer(reader MessageReader, topic string, opts FilterOptions, out io.Writer) (*StatusTailer, error) {
	switch opts.OutputFormat {
	case "", "text":
		opts.OutputFormat = "text"
	case "json":
	default:
		return nil, fmt.Errorf("invalid output format: %s (must be 'text' or 'json')", opts.OutputFormat)
	}

	return &StatusTailer{reader: reader, topic: topic, opts: opts, out: out}, nil
}

// Start consumes until the context is cancelled
func (st *StatusTailer) Start(ctx context.Context) error {
	if err := st.reader.SubscribeTopics([]string{st.topic}, nil); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", st.topic, err)
	}

	log.Info().Str("topic", st.topic).Msg("🚀 Tailing relay status")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("🛑 Shutting down status tailer...")
			return nil
		default:
		}

		msg, err := st.reader.ReadMessage(time.Second)
		if err != nil {
			if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			log.Error().Err(err).Msg("❌ Consumer error")
			continue
		}

		if st.shouldDisplay(msg) {
			st.display(msg)
		}
	}
}

// shouldDisplay filters on the container:status:blob key without decoding the value
func (st *StatusTailer) shouldDisplay(msg *kafka.Message) bool {
	key, err := events.ParseBlobEventKey(string(msg.Key))
	if err != nil {
		log.Debug().Str("key", string(msg.Key)).Msg("Skipping message with unexpected key")
		return false
	}

	if st.opts.Container != "" && key.Container != st.opts.Container {
		return false
	}
	if st.opts.Status != "" && key.EventType != st.opts.Status {
		return false
	}
	if st.opts.FailuresOnly && !key.IsFailure() {
		return false
	}
	return true
}

func (st *StatusTailer) display(msg *kafka.Message) {
	if st.opts.OutputFormat == "json" {
		fmt.Fprintln(st.out, string(msg.Value))
		return
	}

	var event events.RelayStatusEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		fmt.Fprintf(st.out, "🕐 %s | %s | %s\n", msg.Timestamp.Format("15:04:05"), string(msg.Key), string(msg.Value))
		return
	}

	timeStr := event.ProcessedDate.Local().Format("15:04:05")
	object := event.Container + "/" + event.BlobName

	switch event.Status {
	case events.StatusFailed:
		fmt.Fprintf(st.out, "🕐 %s | ❌ %s | %s after %d attempt(s) | sent %d message(s) | %s\n",
			timeStr, object, event.FailureKind, event.Attempts, event.MessagesSent, event.Error)
	case events.StatusNoEligibleRecords:
		fmt.Fprintf(st.out, "🕐 %s | ⚠️ %s | no eligible records | %d row(s) skipped\n",
			timeStr, object, event.RowsSkipped)
	default:
		fmt.Fprintf(st.out, "🕐 %s | ✅ %s | %d message(s) in %d batch(es) to %s\n",
			timeStr, object, event.MessagesSent, event.BatchesSent, event.Bus)
	}
}
