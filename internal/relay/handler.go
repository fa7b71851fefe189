package relay

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/Log-Tools/csv-relay/internal/batching"
	"github.com/Log-Tools/csv-relay/internal/extractor"
	"github.com/Log-Tools/csv-relay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// DefaultMaxObjectBytes bounds how much of one object is read into memory
const DefaultMaxObjectBytes int64 = 256 << 20

// Outcome of a successful invocation
type Outcome string

const (
	OutcomePublished         Outcome = "published"
	OutcomeNoEligibleRecords Outcome = "no_eligible_records"
)

// SourceObject is one arrived object. Body is read once, front to back.
type SourceObject struct {
	Name   string
	Length int64 // Declared length, -1 when unknown
	Body   io.Reader
}

// Result describes what an invocation did
type Result struct {
	Outcome     Outcome
	RowsRead    int
	RowsSkipped int
	Messages    int
	Batches     int
	Bytes       int
}

// Options configures a Handler
type Options struct {
	Column         string // Designated field, "text" when empty
	Comma          rune
	MaxObjectBytes int64 // DefaultMaxObjectBytes when zero
}

// Handler turns one object into published messages.
// It keeps no per-invocation state and may be shared by concurrent invocations
// as long as the sender is safe for concurrent use.
type Handler struct {
	publisher *batching.Publisher
	options   Options
	metrics   *metrics.Metrics
}

// NewHandler creates a Handler publishing through sender. m may be nil.
func NewHandler(sender batching.Sender, opts Options, m *metrics.Metrics) (*Handler, error) {
	if sender == nil {
		return nil, fmt.Errorf("a message bus sender is required")
	}
	if err := sender.Limits().Validate(); err != nil {
		return nil, fmt.Errorf("invalid sender limits: %w", err)
	}
	if opts.Column == "" {
		opts.Column = extractor.DefaultColumn
	}
	if opts.MaxObjectBytes == 0 {
		opts.MaxObjectBytes = DefaultMaxObjectBytes
	}
	if opts.MaxObjectBytes < 0 {
		return nil, fmt.Errorf("max object bytes cannot be negative: %d", opts.MaxObjectBytes)
	}

	return &Handler{
		publisher: batching.NewPublisher(sender),
		options:   opts,
		metrics:   m,
	}, nil
}

// Handle reads, extracts and publishes one object.
// Nothing is published unless the whole object was read and parsed. An object without eligible
// records succeeds with OutcomeNoEligibleRecords and no publish call.
func (h *Handler) Handle(ctx context.Context, obj SourceObject) (*Result, error) {
	start := time.Now()

	result, err := h.handle(ctx, obj)
	if err != nil {
		kind := Classify(err)
		h.metrics.Invocation("failed_"+string(kind), time.Since(start))
		log.Error().
			Err(err).
			Str("object", obj.Name).
			Str("failure", string(kind)).
			Msg("❌ Error processing object")
		return nil, err
	}

	h.metrics.Invocation(string(result.Outcome), time.Since(start))
	return result, nil
}

func (h *Handler) handle(ctx context.Context, obj SourceObject) (*Result, error) {
	log.Info().
		Str("object", obj.Name).
		Int64("size", obj.Length).
		Msg("Processing object")

	content, err := h.readBody(obj)
	if err != nil {
		return nil, err
	}

	extraction, err := extractor.Extract(content, extractor.Options{
		Column: h.options.Column,
		Comma:  h.options.Comma,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", obj.Name, err)
	}

	h.metrics.RowsRead(extraction.RowsRead)
	for reason, n := range extraction.Skipped {
		h.metrics.RowsSkipped(string(reason), n)
	}

	result := &Result{
		RowsRead:    extraction.RowsRead,
		RowsSkipped: extraction.RowsSkipped(),
	}

	if !extraction.ColumnFound {
		log.Warn().
			Str("object", obj.Name).
			Str("column", h.options.Column).
			Msg("⚠️ Designated column not present in header")
	}

	if len(extraction.Messages) == 0 {
		log.Warn().
			Str("object", obj.Name).
			Int("rows", extraction.RowsRead).
			Msg("⚠️ No valid records found in object")
		result.Outcome = OutcomeNoEligibleRecords
		return result, nil
	}

	report, err := h.publisher.Publish(ctx, obj.Name, extraction.Messages)
	if err != nil {
		return nil, err
	}

	for _, size := range report.BatchSizes {
		h.metrics.BatchPublished(size)
	}

	result.Outcome = OutcomePublished
	result.Messages = report.Messages
	result.Batches = report.Batches
	result.Bytes = report.Bytes

	log.Info().
		Str("object", obj.Name).
		Int("rows", result.RowsRead).
		Int("skipped", result.RowsSkipped).
		Int("messages", result.Messages).
		Int("batches", result.Batches).
		Msg("✅ Sent records to message bus")

	return result, nil
}

func (h *Handler) readBody(obj SourceObject) ([]byte, error) {
	if obj.Body == nil {
		return nil, fmt.Errorf("%w %s: no body", ErrRead, obj.Name)
	}
	if obj.Length > h.options.MaxObjectBytes {
		return nil, fmt.Errorf("%w: %s declares %d bytes, limit is %d",
			ErrObjectTooLarge, obj.Name, obj.Length, h.options.MaxObjectBytes)
	}

	// One byte past the limit tells an oversized body from one that fits exactly
	readLimit := h.options.MaxObjectBytes
	if readLimit < math.MaxInt64 {
		readLimit++
	}

	content, err := io.ReadAll(io.LimitReader(obj.Body, readLimit))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrRead, obj.Name, err)
	}
	if int64(len(content)) > h.options.MaxObjectBytes {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrObjectTooLarge, obj.Name, h.options.MaxObjectBytes)
	}
	return content, nil
}
