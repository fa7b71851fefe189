package batching

import (
	"errors"
	"fmt"
)

// ErrMessageTooLarge is returned when a single message cannot fit in any batch
var ErrMessageTooLarge = errors.New("message exceeds the maximum batch size")

// Limits describes the batch constraints declared by a message bus.
// Zero MaxCount or MaxBytes means that budget is unlimited.
type Limits struct {
	MaxCount int // Maximum number of messages per batch
	MaxBytes int // Maximum encoded size of a batch in bytes
	Overhead int // Per-message framing bytes counted against MaxBytes

	// Keyed sinks stamp the object name on every message. Each message is then also
	// charged the key's length plus KeyOverhead framing bytes.
	Keyed       bool
	KeyOverhead int
}

// Batch is an ordered group of messages submitted in one send call
type Batch struct {
	Object   string   // Name of the source object the messages came from
	Index    int      // Position of the batch within its object (0-based)
	Messages []string // Payloads in row order
	Bytes    int      // Accounted size, including per-message overhead
}

// Validate checks the limits are usable for partitioning
func (l Limits) Validate() error {
	if l.MaxCount < 0 {
		return fmt.Errorf("max batch count cannot be negative: %d", l.MaxCount)
	}
	if l.MaxBytes < 0 {
		return fmt.Errorf("max batch bytes cannot be negative: %d", l.MaxBytes)
	}
	if l.Overhead < 0 {
		return fmt.Errorf("message overhead cannot be negative: %d", l.Overhead)
	}
	if l.KeyOverhead < 0 {
		return fmt.Errorf("key overhead cannot be negative: %d", l.KeyOverhead)
	}
	if l.MaxBytes > 0 && l.Overhead >= l.MaxBytes {
		return fmt.Errorf("message overhead (%d) must be smaller than max batch bytes (%d)", l.Overhead, l.MaxBytes)
	}
	return nil
}

// Override returns a copy of l with every positive budget of o applied.
// A negative Overhead in o keeps the current value so that zero can be set explicitly.
// Keying is a property of the sink and is never overridden.
func (l Limits) Override(o Limits) Limits {
	if o.MaxCount > 0 {
		l.MaxCount = o.MaxCount
	}
	if o.MaxBytes > 0 {
		l.MaxBytes = o.MaxBytes
	}
	if o.Overhead >= 0 {
		l.Overhead = o.Overhead
	}
	return l
}

// Size returns the accounted size of one message of object
func (l Limits) Size(object, message string) int {
	size := len(message) + l.Overhead
	if l.Keyed && object != "" {
		size += len(object) + l.KeyOverhead
	}
	return size
}

// Fits reports whether a batch holding count messages totalling bytes respects the limits
func (l Limits) Fits(count, bytes int) bool {
	if l.MaxCount > 0 && count > l.MaxCount {
		return false
	}
	if l.MaxBytes > 0 && bytes > l.MaxBytes {
		return false
	}
	return true
}

// Partition groups messages into batches without reordering them.
// A batch is closed as soon as the next message would push it over either budget,
// so no returned batch is empty or exceeds the limits.
func Partition(object string, messages []string, limits Limits) ([]Batch, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}

	var batches []Batch
	current := Batch{Object: object}

	for i, message := range messages {
		size := limits.Size(object, message)
		if !limits.Fits(1, size) {
			return nil, fmt.Errorf("%w: message %d of %s is %d bytes, limit is %d",
				ErrMessageTooLarge, i, object, size, limits.MaxBytes)
		}

		if len(current.Messages) > 0 && !limits.Fits(len(current.Messages)+1, current.Bytes+size) {
			batches = append(batches, current)
			current = Batch{Object: object, Index: len(batches)}
		}

		current.Messages = append(current.Messages, message)
		current.Bytes += size
	}

	return append(batches, current), nil
}
