package tail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Log-Tools/csv-relay/internal/events"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader returns queued messages, then cancels the tail
type scriptedReader struct {
	topics   []string
	messages []*kafka.Message
	cancel   context.CancelFunc
}

func (r *scriptedReader) SubscribeTopics(topics []string, _ kafka.RebalanceCb) error {
	r.topics = topics
	return nil
}

func (r *scriptedReader) ReadMessage(time.Duration) (*kafka.Message, error) {
	if len(r.messages) == 0 {
		r.cancel()
		return nil, kafka.NewError(kafka.ErrTimedOut, "timed out", false)
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func statusMessage(t *testing.T, event events.RelayStatusEvent) *kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return &kafka.Message{Key: []byte(event.Key()), Value: value}
}

func sampleEvents() []events.RelayStatusEvent {
	when := time.Date(2024, 6, 9, 10, 0, 0, 0, time.UTC)
	return []events.RelayStatusEvent{
		{Container: "reviews", BlobName: "a.csv", Status: events.StatusPublished, MessagesSent: 2, BatchesSent: 1, Bus: "eventhubs:realtimehub", ProcessedDate: when},
		{Container: "reviews", BlobName: "b.csv", Status: events.StatusFailed, FailureKind: "publish", Attempts: 5, Error: "broker unavailable", ProcessedDate: when},
		{Container: "surveys", BlobName: "c.csv", Status: events.StatusNoEligibleRecords, RowsSkipped: 3, ProcessedDate: when},
	}
}

func runTail(t *testing.T, opts FilterOptions, messages ...*kafka.Message) (string, *scriptedReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &scriptedReader{messages: messages, cancel: cancel}
	var out bytes.Buffer

	tailer, err := NewStatusTailer(reader, events.TopicRelayStatus, opts, &out)
	require.NoError(t, err)
	require.NoError(t, tailer.Start(ctx))
	return out.String(), reader
}

func TestStatusTailer(t *testing.T) {
	var messages []*kafka.Message
	for _, e := range sampleEvents() {
		messages = append(messages, statusMessage(t, e))
	}

	t.Run("text output for every status", func(t *testing.T) {
		out, reader := runTail(t, FilterOptions{}, messages...)

		assert.Equal(t, []string{events.TopicRelayStatus}, reader.topics)
		assert.Contains(t, out, "✅ reviews/a.csv | 2 message(s) in 1 batch(es) to eventhubs:realtimehub")
		assert.Contains(t, out, "❌ reviews/b.csv | publish after 5 attempt(s)")
		assert.Contains(t, out, "⚠️ surveys/c.csv | no eligible records | 3 row(s) skipped")
	})

	t.Run("container filter", func(t *testing.T) {
		out, _ := runTail(t, FilterOptions{Container: "surveys"}, messages...)
		assert.NotContains(t, out, "reviews/")
		assert.Contains(t, out, "surveys/c.csv")
	})

	t.Run("failures only", func(t *testing.T) {
		out, _ := runTail(t, FilterOptions{FailuresOnly: true}, messages...)
		assert.Contains(t, out, "reviews/b.csv")
		assert.NotContains(t, out, "reviews/a.csv")
		assert.NotContains(t, out, "surveys/c.csv")
	})

	t.Run("status filter", func(t *testing.T) {
		out, _ := runTail(t, FilterOptions{Status: events.StatusPublished}, messages...)
		assert.Contains(t, out, "reviews/a.csv")
		assert.NotContains(t, out, "reviews/b.csv")
	})

	t.Run("json output is the raw event", func(t *testing.T) {
		out, _ := runTail(t, FilterOptions{OutputFormat: "json", Container: "surveys"}, messages...)
		assert.JSONEq(t, string(messages[2].Value), out)
	})

	t.Run("unexpected keys are skipped", func(t *testing.T) {
		out, _ := runTail(t, FilterOptions{}, &kafka.Message{Key: []byte("no-colons"), Value: []byte("{}")})
		assert.Empty(t, out)
	})
}

func TestNewStatusTailer_InvalidFormat(t *testing.T) {
	_, err := NewStatusTailer(&scriptedReader{}, events.TopicRelayStatus, FilterOptions{OutputFormat: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

type failingSubscribe struct{ scriptedReader }

func (f *failingSubscribe) SubscribeTopics([]string, kafka.RebalanceCb) error {
	return errors.New("unknown topic")
}

func TestStatusTailer_SubscribeFailure(t *testing.T) {
	tailer, err := NewStatusTailer(&failingSubscribe{}, events.TopicRelayStatus, FilterOptions{}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Error(t, tailer.Start(context.Background()))
}
