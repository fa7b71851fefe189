package events

import "time"

// Relay statuses, also used as the event type in status keys
const (
	StatusPublished         = "published"
	StatusNoEligibleRecords = "no_eligible_records"
	StatusFailed            = "failed"
)

// RelayStatusEvent records what happened to one object.
// Published by the worker once per object when it succeeds or runs out of attempts.
type RelayStatusEvent struct {
	Container     string    `json:"container"`
	BlobName      string    `json:"blobName"`
	Status        string    `json:"status"`
	FailureKind   string    `json:"failureKind,omitempty"`
	Error         string    `json:"error,omitempty"`
	Attempts      int       `json:"attempts"`
	RowsRead      int       `json:"rowsRead"`
	RowsSkipped   int       `json:"rowsSkipped"`
	MessagesSent  int       `json:"messagesSent"`
	BatchesSent   int       `json:"batchesSent"`
	Bus           string    `json:"bus"`
	SourceEventID string    `json:"sourceEventId,omitempty"`
	ProcessedDate time.Time `json:"processedDate"`
}

// Key returns the Kafka key for this event
func (e *RelayStatusEvent) Key() string {
	return GenerateBlobEventKey(e.Container, e.Status, e.BlobName)
}
