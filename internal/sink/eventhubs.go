package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
	"github.com/Log-Tools/csv-relay/internal/batching"
	"github.com/Log-Tools/csv-relay/internal/config"
)

// Per-event AMQP cost as the SDK's EventDataBatch counts it, at the widest encodings.
// Every event carries a properties section with a 36 character message ID (50 bytes),
// a data section header (8) and the batch's vbin32 framing (8).
// A partition key adds a message-annotations section: descriptor (3), map32 header (9),
// the x-opt-partition-key symbol (21) and a str32 header (5) before the key itself.
const (
	DefaultEventHubsMaxBatchBytes   = 1000000 // below the 1 MiB link limit, the rest covers the batch envelope
	DefaultEventHubsMessageOverhead = 66
	DefaultEventHubsKeyOverhead     = 38
)

func init() {
	Register(config.BusEventHubs, func(cfg config.BusConfig) (Sink, error) {
		hub := cfg.Endpoint
		conn, err := config.ParseEventHubsConnectionString(cfg.EventHubs.ConnectionString)
		if err != nil {
			return nil, err
		}
		// The SDK rejects a hub name when the connection string already carries one
		if conn.EntityPath != "" {
			if conn.EntityPath != hub {
				return nil, fmt.Errorf("connection string targets hub %q but endpoint is %q", conn.EntityPath, hub)
			}
			hub = ""
		}

		client, err := azeventhubs.NewProducerClientFromConnectionString(cfg.EventHubs.ConnectionString, hub, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Event Hubs producer: %w", err)
		}
		return NewEventHubsSink(&producerClientSender{client: client}, cfg.Endpoint, limitsFor(DefaultEventHubsLimits(), cfg), cfg.KeyByObject), nil
	})
}

// DefaultEventHubsLimits returns the limits of a standard tier hub
func DefaultEventHubsLimits() batching.Limits {
	return batching.Limits{
		MaxBytes:    DefaultEventHubsMaxBatchBytes,
		Overhead:    DefaultEventHubsMessageOverhead,
		KeyOverhead: DefaultEventHubsKeyOverhead,
	}
}

// eventSender sends a group of events as one Event Hubs batch
type eventSender interface {
	Send(ctx context.Context, events []*azeventhubs.EventData, partitionKey *string) error
	Close(ctx context.Context) error
}

// EventHubsSink publishes each batch as a single Event Hubs send
type EventHubsSink struct {
	sender      eventSender
	hub         string
	limits      batching.Limits
	keyByObject bool
}

// NewEventHubsSink creates a sink over an event sender
func NewEventHubsSink(sender eventSender, hub string, limits batching.Limits, keyByObject bool) *EventHubsSink {
	limits.Keyed = keyByObject
	return &EventHubsSink{
		sender:      sender,
		hub:         hub,
		limits:      limits,
		keyByObject: keyByObject,
	}
}

// Name returns the sink name
func (s *EventHubsSink) Name() string {
	return "eventhubs:" + s.hub
}

// Limits returns the batch limits
func (s *EventHubsSink) Limits() batching.Limits {
	return s.limits
}

// SendBatch sends the batch atomically; Event Hubs accepts or rejects it as a whole
func (s *EventHubsSink) SendBatch(ctx context.Context, batch batching.Batch) error {
	events := make([]*azeventhubs.EventData, len(batch.Messages))
	for i, payload := range batch.Messages {
		events[i] = &azeventhubs.EventData{Body: []byte(payload)}
	}

	var partitionKey *string
	if key := messageKey(s.keyByObject, batch); key != nil {
		k := string(key)
		partitionKey = &k
	}

	if err := s.sender.Send(ctx, events, partitionKey); err != nil {
		return fmt.Errorf("failed to send batch to %s: %w", s.hub, err)
	}
	return nil
}

// Close closes the producer client
func (s *EventHubsSink) Close() error {
	return s.sender.Close(context.Background())
}

// producerClientSender builds an SDK batch per call
type producerClientSender struct {
	client *azeventhubs.ProducerClient
}

func (p *producerClientSender) Send(ctx context.Context, events []*azeventhubs.EventData, partitionKey *string) error {
	batch, err := p.client.NewEventDataBatch(ctx, &azeventhubs.EventDataBatchOptions{PartitionKey: partitionKey})
	if err != nil {
		return fmt.Errorf("failed to create event batch: %w", err)
	}

	for i, event := range events {
		if err := batch.AddEventData(event, nil); err != nil {
			if errors.Is(err, azeventhubs.ErrEventDataTooLarge) {
				return fmt.Errorf("event %d/%d does not fit in the hub's batch (%d bytes used), lower max_batch_bytes: %w",
					i+1, len(events), batch.NumBytes(), err)
			}
			return fmt.Errorf("failed to add event %d/%d: %w", i+1, len(events), err)
		}
	}

	return p.client.SendEventDataBatch(ctx, batch, nil)
}

func (p *producerClientSender) Close(ctx context.Context) error {
	return p.client.Close(ctx)
}
