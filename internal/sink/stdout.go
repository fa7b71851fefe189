package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Log-Tools/csv-relay/internal/batching"
	"github.com/Log-Tools/csv-relay/internal/config"
	"github.com/rs/zerolog/log"
)

const DefaultStdoutMaxBatchCount = 100

func init() {
	Register(config.BusStdout, func(cfg config.BusConfig) (Sink, error) {
		limits := limitsFor(batching.Limits{MaxCount: DefaultStdoutMaxBatchCount}, cfg)
		return NewWriterSink(os.Stdout, limits), nil
	})
}

// stdoutRecord is one line of WriterSink output
type stdoutRecord struct {
	Object  string `json:"object"`
	Batch   int    `json:"batch"`
	Message string `json:"message"`
}

// WriterSink writes every message as a JSON line, for dry runs and local pipelines
type WriterSink struct {
	mu     sync.Mutex
	out    io.Writer
	limits batching.Limits
}

// NewWriterSink creates a sink writing to out
func NewWriterSink(out io.Writer, limits batching.Limits) *WriterSink {
	return &WriterSink{out: out, limits: limits}
}

// Name returns the sink name
func (s *WriterSink) Name() string {
	return "stdout"
}

// Limits returns the batch limits
func (s *WriterSink) Limits() batching.Limits {
	return s.limits
}

// SendBatch writes the batch; lines of concurrent batches never interleave
func (s *WriterSink) SendBatch(ctx context.Context, batch batching.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.out)
	for _, msg := range batch.Messages {
		if err := enc.Encode(stdoutRecord{Object: batch.Object, Batch: batch.Index, Message: msg}); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}

	log.Debug().
		Str("object", batch.Object).
		Int("batch", batch.Index).
		Int("messages", len(batch.Messages)).
		Msg("Wrote batch")
	return nil
}

// Close is a no-op
func (s *WriterSink) Close() error {
	return nil
}
