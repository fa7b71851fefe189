package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/Log-Tools/csv-relay/internal/batching"
	"github.com/Log-Tools/csv-relay/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNatsMaxBatchCount = 256
	DefaultNatsMaxBatchBytes = 8 << 20 // bounds bytes in flight, each message is its own publish
	natsKeyHeaderOverhead    = len("NATS/1.0\r\nkey: \r\n\r\n")
)

func init() {
	Register(config.BusNATS, func(cfg config.BusConfig) (Sink, error) {
		if cfg.NATS.URL == "" {
			return nil, fmt.Errorf("nats sink requires a url")
		}
		return NewNatsSink(cfg.NATS, cfg.Endpoint, limitsFor(DefaultNatsLimits(), cfg), cfg.KeyByObject)
	})
}

// DefaultNatsLimits returns the limits used for JetStream
func DefaultNatsLimits() batching.Limits {
	return batching.Limits{
		MaxCount:    DefaultNatsMaxBatchCount,
		MaxBytes:    DefaultNatsMaxBatchBytes,
		KeyOverhead: natsKeyHeaderOverhead,
	}
}

// asyncPublisher is the part of JetStream the sink publishes through
type asyncPublisher interface {
	PublishMsgAsync(msg *nats.Msg, opts ...jetstream.PublishOpt) (jetstream.PubAckFuture, error)
}

// NatsSink publishes batches to a JetStream subject and waits for every ack
type NatsSink struct {
	nc          *nats.Conn
	js          asyncPublisher
	subject     string
	limits      batching.Limits
	keyByObject bool
}

// NewNatsSink connects to NATS and ensures the stream when one is configured
func NewNatsSink(cfg config.NATSConfig, subject string, limits batching.Limits, keyByObject bool) (*NatsSink, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if cfg.Stream != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{subject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    cfg.MaxAge,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.Stream, err)
		}
		log.Info().Str("stream", cfg.Stream).Str("subject", subject).Msg("✅ JetStream stream ready")
	}

	s := newNatsSinkWithPublisher(js, subject, limits, keyByObject)
	s.nc = nc
	return s, nil
}

func newNatsSinkWithPublisher(js asyncPublisher, subject string, limits batching.Limits, keyByObject bool) *NatsSink {
	limits.Keyed = keyByObject
	return &NatsSink{
		js:          js,
		subject:     subject,
		limits:      limits,
		keyByObject: keyByObject,
	}
}

// Name returns the sink name
func (s *NatsSink) Name() string {
	return "nats:" + s.subject
}

// Limits returns the batch limits
func (s *NatsSink) Limits() batching.Limits {
	return s.limits
}

// SendBatch publishes every message asynchronously and waits for all acks
func (s *NatsSink) SendBatch(ctx context.Context, batch batching.Batch) error {
	key := messageKey(s.keyByObject, batch)

	futures := make([]jetstream.PubAckFuture, 0, len(batch.Messages))
	var publishErr error
	for _, payload := range batch.Messages {
		msg := &nats.Msg{Subject: s.subject, Data: []byte(payload)}
		if key != nil {
			msg.Header = nats.Header{"key": []string{string(key)}}
		}

		future, err := s.js.PublishMsgAsync(msg)
		if err != nil {
			publishErr = err
			break
		}
		futures = append(futures, future)
	}

	failed := 0
	var ackErr error
	for i, future := range futures {
		select {
		case <-future.Ok():
		case err := <-future.Err():
			failed++
			if ackErr == nil {
				ackErr = err
			}
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for %d ack(s) from %s: %w", len(futures)-i, s.subject, ctx.Err())
		}
	}

	if publishErr != nil {
		return fmt.Errorf("failed to publish message %d/%d to %s: %w", len(futures)+1, len(batch.Messages), s.subject, publishErr)
	}
	if ackErr != nil {
		return fmt.Errorf("%d of %d message(s) not acknowledged on %s: %w", failed, len(futures), s.subject, ackErr)
	}
	return nil
}

// Close releases the NATS connection
func (s *NatsSink) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
