package batching

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Sender abstracts a message bus that accepts whole batches.
// SendBatch must treat the batch as all-or-nothing: any error means the batch is not acknowledged.
type Sender interface {
	SendBatch(ctx context.Context, batch Batch) error
	Limits() Limits
}

// Report summarises a successful publish
type Report struct {
	Batches    int
	Messages   int
	Bytes      int
	BatchSizes []int // Message count of each batch, in send order
}

// PublishError reports the batch that failed and how much of the object was already delivered.
// Messages counted in MessagesSent are duplicated when the object is redelivered.
type PublishError struct {
	Object       string
	BatchIndex   int
	BatchCount   int
	BatchesSent  int
	MessagesSent int
	Err          error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish batch %d/%d of %s (%d batch(es), %d message(s) already sent): %v",
		e.BatchIndex+1, e.BatchCount, e.Object, e.BatchesSent, e.MessagesSent, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Publisher partitions messages according to the sender's limits and sends each batch once
type Publisher struct {
	sender Sender
}

// NewPublisher creates a publisher for the given sender
func NewPublisher(sender Sender) *Publisher {
	return &Publisher{sender: sender}
}

// Publish sends messages for one object. Batches go out sequentially in construction order and
// publishing stops at the first failure; a failed batch is never retried here.
func (p *Publisher) Publish(ctx context.Context, object string, messages []string) (*Report, error) {
	batches, err := Partition(object, messages, p.sender.Limits())
	if err != nil {
		return nil, err
	}

	report := &Report{BatchSizes: make([]int, 0, len(batches))}

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, p.failure(object, batch, len(batches), report, err)
		}

		if err := p.sender.SendBatch(ctx, batch); err != nil {
			return nil, p.failure(object, batch, len(batches), report, err)
		}

		report.Batches++
		report.Messages += len(batch.Messages)
		report.Bytes += batch.Bytes
		report.BatchSizes = append(report.BatchSizes, len(batch.Messages))

		log.Debug().
			Str("object", object).
			Int("batch", batch.Index+1).
			Int("of", len(batches)).
			Int("messages", len(batch.Messages)).
			Int("bytes", batch.Bytes).
			Msg("Batch sent")
	}

	return report, nil
}

func (p *Publisher) failure(object string, batch Batch, count int, report *Report, err error) error {
	if report.Batches > 0 {
		log.Warn().
			Str("object", object).
			Int("batches_sent", report.Batches).
			Int("messages_sent", report.Messages).
			Msg("⚠️ Object partially published; already-sent messages will be duplicated when it is redelivered")
	}

	return &PublishError{
		Object:       object,
		BatchIndex:   batch.Index,
		BatchCount:   count,
		BatchesSent:  report.Batches,
		MessagesSent: report.Messages,
		Err:          err,
	}
}
