package sink

import (
	"context"
	"sync"

	"github.com/Log-Tools/csv-relay/internal/batching"
)

// MockSink is a mock implementation of Sink for testing
type MockSink struct {
	BatchLimits batching.Limits
	Batches     []batching.Batch

	// FailOn makes the nth SendBatch call (1-based) return SendErr; zero with a
	// non-nil SendErr fails every call
	FailOn  int
	SendErr error

	Calls  int
	Closed bool
	mu     sync.Mutex
}

// Name returns the sink name
func (m *MockSink) Name() string {
	return "mock"
}

// Limits returns the configured limits
func (m *MockSink) Limits() batching.Limits {
	return m.BatchLimits
}

// SendBatch records a batch for later inspection in tests
func (m *MockSink) SendBatch(ctx context.Context, batch batching.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.SendErr != nil && (m.FailOn == 0 || m.FailOn == m.Calls) {
		return m.SendErr
	}

	m.Batches = append(m.Batches, batch)
	return nil
}

// Messages returns every recorded payload in send order
func (m *MockSink) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []string
	for _, b := range m.Batches {
		all = append(all, b.Messages...)
	}
	return all
}

// Close marks the sink closed
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Reset clears all recorded batches
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = nil
	m.Calls = 0
}
