package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Log-Tools/csv-relay/internal/batching"
	"github.com/Log-Tools/csv-relay/internal/config"
	"github.com/Log-Tools/csv-relay/internal/events"
	"github.com/Log-Tools/csv-relay/internal/filters"
	"github.com/Log-Tools/csv-relay/internal/ingestion"
	"github.com/Log-Tools/csv-relay/internal/metrics"
	"github.com/Log-Tools/csv-relay/internal/relay"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog/log"
)

// FailureNotFound marks objects deleted before they could be read
const FailureNotFound = "not_found"

const statusReportTimeout = 30 * time.Second

// Consumer interface abstracts the Kafka consumer of storage notifications
type Consumer interface {
	Subscribe(topics []string, rebalanceCb kafka.RebalanceCb) error
	Poll(timeoutMs int) kafka.Event
	CommitMessage(msg *kafka.Message) ([]kafka.TopicPartition, error)
	Seek(partition kafka.TopicPartition, ignoredTimeoutMs int) error
	Close() error
}

// RelayWorker consumes BlobCreated notifications and relays each new object.
// A notification is committed once every object it names was relayed, turned away by the
// filters, or failed permanently. Retryable failures seek back to the notification until
// the attempt budget runs out.
type RelayWorker struct {
	config    *config.Config
	consumer  Consumer
	processor ingestion.ObjectProcessor
	reporter  ingestion.StatusReporter
	filter    *filters.BlobFilter
	metrics   *metrics.Metrics
	busName   string

	// Attempts per notification offset (no mutex needed in single-threaded event loop)
	attempts map[string]int

	sleep func(ctx context.Context, d time.Duration) error
}

// objectFailure is the failed object that stopped a notification from being committed
type objectFailure struct {
	info  ingestion.ObjectInfo
	event events.BlobCreatedEvent
	err   error
}

// NewRelayWorker creates a new relay worker
func NewRelayWorker(
	cfg *config.Config,
	consumer Consumer,
	processor ingestion.ObjectProcessor,
	reporter ingestion.StatusReporter,
	busName string,
	m *metrics.Metrics,
) (*RelayWorker, error) {
	blobFilter, err := filters.NewBlobFilter(&cfg.Worker.Filters, cfg.Worker.Sharding)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob filter: %w", err)
	}

	return &RelayWorker{
		config:    cfg,
		consumer:  consumer,
		processor: processor,
		reporter:  reporter,
		filter:    blobFilter,
		metrics:   m,
		busName:   busName,
		attempts:  make(map[string]int),
		sleep:     sleepContext,
	}, nil
}

// Start subscribes to the notification topic and runs until the context is cancelled
func (w *RelayWorker) Start(ctx context.Context) error {
	topic := w.config.Worker.EventsTopic
	if err := w.consumer.Subscribe([]string{topic}, w.rebalance); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	log.Info().
		Str("topic", topic).
		Str("group", w.config.Worker.ConsumerGroup).
		Str("bus", w.busName).
		Msg("📋 Subscribed to storage notifications")

	return w.eventLoop(ctx)
}

func (w *RelayWorker) eventLoop(ctx context.Context) error {
	pollTimeout := int(w.config.Worker.PollTimeout.Milliseconds())

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("🛑 Context cancelled, stopping event loop...")
			return nil
		default:
		}

		switch e := w.consumer.Poll(pollTimeout).(type) {
		case nil:
			continue
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				log.Error().Err(e.TopicPartition.Error).Msg("❌ Consumer delivered a failed message")
				continue
			}
			w.handleMessage(ctx, e)
		case kafka.Error:
			if e.IsFatal() {
				return fmt.Errorf("fatal consumer error: %w", e)
			}
			log.Error().Err(e).Msg("❌ Kafka error")
		default:
			log.Debug().Str("event", e.String()).Msg("Ignoring consumer event")
		}
	}
}

// handleMessage relays one notification and commits, retries or gives up on it
func (w *RelayWorker) handleMessage(ctx context.Context, msg *kafka.Message) {
	key := offsetKey(msg.TopicPartition)
	attempt := w.attempts[key] + 1

	failure := w.relayMessage(ctx, msg, attempt)

	// Shutting down: leave the offset uncommitted so the notification is redelivered
	if ctx.Err() != nil {
		return
	}

	if failure == nil {
		delete(w.attempts, key)
		w.commit(msg)
		return
	}

	if attempt >= w.config.Worker.MaxAttempts {
		log.Error().
			Err(failure.err).
			Str("object", failure.info.Name()).
			Int("attempts", attempt).
			Msg("❌ Giving up on object")
		w.reportFailure(ctx, failure, attempt)
		delete(w.attempts, key)
		w.commit(msg)
		return
	}

	w.attempts[key] = attempt
	log.Warn().
		Err(failure.err).
		Str("object", failure.info.Name()).
		Int("attempt", attempt).
		Int("max_attempts", w.config.Worker.MaxAttempts).
		Dur("backoff", w.config.Worker.RetryBackoff).
		Msg("🔁 Retrying notification")

	if err := w.sleep(ctx, w.config.Worker.RetryBackoff); err != nil {
		return
	}
	if err := w.consumer.Seek(msg.TopicPartition, 0); err != nil {
		log.Error().Err(err).Str("offset", key).Msg("❌ Failed to seek back for retry")
	}
}

// relayMessage relays every eligible object in one notification message.
// It stops at the first retryable failure; permanent failures are reported and skipped.
func (w *RelayWorker) relayMessage(ctx context.Context, msg *kafka.Message, attempt int) *objectFailure {
	blobEvents, err := events.DecodeBlobEvents(msg.Value)
	if err != nil {
		w.metrics.TriggerEvent("undecodable")
		log.Warn().Err(err).Str("offset", offsetKey(msg.TopicPartition)).Msg("Skipping undecodable notification")
		return nil
	}

	for _, event := range blobEvents {
		info, ok := w.accept(event)
		if !ok {
			continue
		}

		if err := w.relayObject(ctx, info, event, attempt); err != nil {
			failure := &objectFailure{info: info, event: event, err: err}
			if ctx.Err() == nil && isPermanent(err) {
				log.Error().Err(err).Str("object", info.Name()).Msg("❌ Object cannot be relayed, not retrying")
				w.reportFailure(ctx, failure, attempt)
				continue
			}
			return failure
		}
	}
	return nil
}

// accept applies event type, subject and filter checks
func (w *RelayWorker) accept(event events.BlobCreatedEvent) (ingestion.ObjectInfo, bool) {
	if !event.IsBlobCreated() {
		w.metrics.TriggerEvent("ignored_event_type")
		log.Debug().Str("type", event.EventType).Str("id", event.ID).Msg("Ignoring notification type")
		return ingestion.ObjectInfo{}, false
	}

	container, blobName, err := event.Location()
	if err != nil {
		w.metrics.TriggerEvent("invalid_subject")
		log.Warn().Err(err).Str("id", event.ID).Msg("Skipping notification")
		return ingestion.ObjectInfo{}, false
	}

	if rejection := w.filter.Check(container, blobName, event.EventTime); rejection != filters.Eligible {
		w.metrics.TriggerEvent("filtered_" + string(rejection))
		log.Debug().
			Str("container", container).
			Str("blob", blobName).
			Str("filter", string(rejection)).
			Msg("Object filtered out")
		return ingestion.ObjectInfo{}, false
	}

	w.metrics.TriggerEvent("accepted")
	return ingestion.ObjectInfo{ContainerName: container, BlobName: blobName}, true
}

// relayObject runs one bounded invocation and reports its success
func (w *RelayWorker) relayObject(ctx context.Context, info ingestion.ObjectInfo, event events.BlobCreatedEvent, attempt int) error {
	invocationCtx, cancel := context.WithTimeout(ctx, w.config.Worker.InvocationTimeout)
	defer cancel()

	start := time.Now()
	result, err := w.processor.ProcessObject(invocationCtx, info)
	if err != nil {
		return err
	}

	log.Info().
		Str("object", info.Name()).
		Str("outcome", string(result.Outcome)).
		Int("messages", result.Messages).
		Int("batches", result.Batches).
		Dur("duration", time.Since(start)).
		Msg("📊 Completed object")

	status := events.StatusPublished
	if result.Outcome == relay.OutcomeNoEligibleRecords {
		status = events.StatusNoEligibleRecords
	}

	w.report(ctx, events.RelayStatusEvent{
		Container:     info.ContainerName,
		BlobName:      info.BlobName,
		Status:        status,
		Attempts:      attempt,
		RowsRead:      result.RowsRead,
		RowsSkipped:   result.RowsSkipped,
		MessagesSent:  result.Messages,
		BatchesSent:   result.Batches,
		Bus:           w.busName,
		SourceEventID: event.ID,
		ProcessedDate: time.Now().UTC(),
	})
	return nil
}

func (w *RelayWorker) reportFailure(ctx context.Context, failure *objectFailure, attempts int) {
	status := events.RelayStatusEvent{
		Container:     failure.info.ContainerName,
		BlobName:      failure.info.BlobName,
		Status:        events.StatusFailed,
		FailureKind:   failureKind(failure.err),
		Error:         failure.err.Error(),
		Attempts:      attempts,
		Bus:           w.busName,
		SourceEventID: failure.event.ID,
		ProcessedDate: time.Now().UTC(),
	}

	// Messages already acknowledged before a mid-publish failure
	var publishErr *batching.PublishError
	if errors.As(failure.err, &publishErr) {
		status.BatchesSent = publishErr.BatchesSent
		status.MessagesSent = publishErr.MessagesSent
	}

	w.report(ctx, status)
}

// report publishes a status event; failures are logged and never block the commit
func (w *RelayWorker) report(ctx context.Context, status events.RelayStatusEvent) {
	reportCtx, cancel := context.WithTimeout(ctx, statusReportTimeout)
	defer cancel()

	if err := w.reporter.Report(reportCtx, status); err != nil {
		log.Warn().Err(err).Str("key", status.Key()).Msg("⚠️ Failed to report status")
	}
}

func (w *RelayWorker) commit(msg *kafka.Message) {
	if _, err := w.consumer.CommitMessage(msg); err != nil {
		log.Error().Err(err).Str("offset", offsetKey(msg.TopicPartition)).Msg("❌ Failed to commit offset")
	}
}

// rebalance drops retry bookkeeping for partitions this worker no longer owns
func (w *RelayWorker) rebalance(_ *kafka.Consumer, event kafka.Event) error {
	switch e := event.(type) {
	case kafka.AssignedPartitions:
		log.Info().Int("partitions", len(e.Partitions)).Msg("Partitions assigned")
	case kafka.RevokedPartitions:
		log.Info().Int("partitions", len(e.Partitions)).Msg("Partitions revoked")
		w.attempts = make(map[string]int)
	}
	return nil
}

// failureKind names the failure for status events
func failureKind(err error) string {
	if errors.Is(err, ingestion.ErrObjectNotFound) {
		return FailureNotFound
	}
	return string(relay.Classify(err))
}

// isPermanent reports failures that another attempt cannot fix
func isPermanent(err error) bool {
	switch relay.FailureKind(failureKind(err)) {
	case FailureNotFound, relay.FailureDecode, relay.FailureHeader, relay.FailureTooLarge, relay.FailureOversizeMessage:
		return true
	default:
		return false
	}
}

func offsetKey(tp kafka.TopicPartition) string {
	topic := ""
	if tp.Topic != nil {
		topic = *tp.Topic
	}
	return fmt.Sprintf("%s[%d]@%d", topic, tp.Partition, tp.Offset)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
