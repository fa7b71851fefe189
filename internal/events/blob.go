package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventTypeBlobCreated is the Event Grid type raised when an object is written
const EventTypeBlobCreated = "Microsoft.Storage.BlobCreated"

const subjectPrefix = "/blobServices/default/containers/"

// BlobCreatedEvent is an Event Grid storage notification.
// Both the Event Grid schema (eventType, eventTime) and the CloudEvents schema (type, time)
// are accepted; Normalize folds the latter into the former.
type BlobCreatedEvent struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic,omitempty"`
	Subject     string          `json:"subject"`
	EventType   string          `json:"eventType,omitempty"`
	EventTime   time.Time       `json:"eventTime,omitempty"`
	Type        string          `json:"type,omitempty"`
	Time        time.Time       `json:"time,omitempty"`
	DataVersion string          `json:"dataVersion,omitempty"`
	Data        BlobCreatedData `json:"data"`
}

// BlobCreatedData is the payload of a BlobCreated notification
type BlobCreatedData struct {
	API           string `json:"api"`
	ContentType   string `json:"contentType"`
	ContentLength int64  `json:"contentLength"`
	BlobType      string `json:"blobType"`
	URL           string `json:"url"`
	ETag          string `json:"eTag"`
}

// Normalize copies CloudEvents fields into their Event Grid counterparts
func (e *BlobCreatedEvent) Normalize() {
	if e.EventType == "" {
		e.EventType = e.Type
	}
	if e.EventTime.IsZero() {
		e.EventTime = e.Time
	}
}

// IsBlobCreated reports whether the notification announces a new object
func (e *BlobCreatedEvent) IsBlobCreated() bool {
	return e.EventType == EventTypeBlobCreated
}

// Location returns the container and blob name the notification refers to
func (e *BlobCreatedEvent) Location() (container, blob string, err error) {
	return ParseSubject(e.Subject)
}

// ParseSubject splits "/blobServices/default/containers/{container}/blobs/{blob}"
func ParseSubject(subject string) (container, blob string, err error) {
	rest, ok := strings.CutPrefix(subject, subjectPrefix)
	if !ok {
		return "", "", fmt.Errorf("unexpected blob event subject: %s", subject)
	}

	container, blob, ok = strings.Cut(rest, "/blobs/")
	if !ok || container == "" || blob == "" {
		return "", "", fmt.Errorf("blob event subject has no container or blob: %s", subject)
	}
	return container, blob, nil
}

// DecodeBlobEvents decodes a message holding either one notification or an array of them
func DecodeBlobEvents(data []byte) ([]BlobCreatedEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty blob event message")
	}

	var decoded []BlobCreatedEvent
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode blob event array: %w", err)
		}
	} else {
		var single BlobCreatedEvent
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("failed to decode blob event: %w", err)
		}
		decoded = []BlobCreatedEvent{single}
	}

	for i := range decoded {
		decoded[i].Normalize()
	}
	return decoded, nil
}
