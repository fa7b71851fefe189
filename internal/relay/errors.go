package relay

import (
	"context"
	"errors"

	"github.com/Log-Tools/csv-relay/internal/batching"
	"github.com/Log-Tools/csv-relay/internal/extractor"
)

// ErrObjectTooLarge is returned when an object exceeds the configured read limit
var ErrObjectTooLarge = errors.New("source object exceeds the maximum object size")

// ErrRead wraps failures reading the object body
var ErrRead = errors.New("failed to read source object")

// FailureKind names the class of an invocation failure for logs, metrics and status events
type FailureKind string

const (
	FailureDecode          FailureKind = "decode"
	FailureHeader          FailureKind = "header"
	FailureRead            FailureKind = "read"
	FailureTooLarge        FailureKind = "too_large"
	FailureOversizeMessage FailureKind = "oversize_message"
	FailurePublish         FailureKind = "publish"
	FailureTimeout         FailureKind = "timeout"
	FailureUnknown         FailureKind = "unknown"
)

// Classify maps an error returned by Handle to its failure kind.
// Timeouts are reported as such even when they surface through a publish error.
func Classify(err error) FailureKind {
	var publishErr *batching.PublishError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return FailureTimeout
	case errors.Is(err, extractor.ErrDecode):
		return FailureDecode
	case errors.Is(err, extractor.ErrMissingHeader):
		return FailureHeader
	case errors.Is(err, ErrObjectTooLarge):
		return FailureTooLarge
	case errors.Is(err, batching.ErrMessageTooLarge):
		return FailureOversizeMessage
	case errors.As(err, &publishErr):
		return FailurePublish
	case errors.Is(err, ErrRead):
		return FailureRead
	default:
		return FailureUnknown
	}
}
