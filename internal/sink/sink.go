// Package sink adapts message buses to the batch sender used by the relay.
//
// Every sink declares its own batch limits and accepts one batch per SendBatch call.
// A SendBatch error means the batch may be partially delivered; callers never resend it.
package sink

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Log-Tools/csv-relay/internal/batching"
	"github.com/Log-Tools/csv-relay/internal/config"
)

// Sink is a message bus the relay publishes batches to
type Sink interface {
	batching.Sender

	// Name identifies the sink and its destination in logs
	Name() string

	// Close flushes pending work and releases connections
	Close() error
}

// Factory is a function that creates a Sink from the bus configuration
type Factory func(cfg config.BusConfig) (Sink, error)

var (
	factories = make(map[string]Factory)
	factoryMu sync.RWMutex
)

// Register registers a sink factory for a bus type
func Register(kind string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[kind] = factory
}

// New creates the sink selected by cfg.Type
func New(cfg config.BusConfig) (Sink, error) {
	factoryMu.RLock()
	factory, exists := factories[cfg.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown bus type: %s", cfg.Type)
	}

	s, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s sink: %w", cfg.Type, err)
	}
	if err := s.Limits().Validate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid batch limits for %s sink: %w", cfg.Type, err)
	}
	return s, nil
}

// Kinds lists the registered bus types
func Kinds() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	kinds := make([]string, 0, len(factories))
	for kind := range factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// limitsFor applies configured overrides on top of a sink's own limits
func limitsFor(defaults batching.Limits, cfg config.BusConfig) batching.Limits {
	overhead := -1
	if cfg.MessageOverhead != nil {
		overhead = *cfg.MessageOverhead
	}
	return defaults.Override(batching.Limits{
		MaxCount: cfg.MaxBatchCount,
		MaxBytes: cfg.MaxBatchBytes,
		Overhead: overhead,
	})
}

func messageKey(keyByObject bool, batch batching.Batch) []byte {
	if !keyByObject || batch.Object == "" {
		return nil
	}
	return []byte(batch.Object)
}
