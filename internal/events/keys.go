package events

import (
	"fmt"
	"strings"
)

// BlobEventKey represents the components of a blob event key
type BlobEventKey struct {
	Container string
	EventType string
	BlobName  string
}

// GenerateBlobEventKey creates a standardized key for blob events
// Format: {container}:{eventType}:{blobName}
// Container names cannot contain colons, so the blob name may
func GenerateBlobEventKey(container, eventType, blobName string) string {
	return fmt.Sprintf("%s:%s:%s", container, eventType, strings.TrimPrefix(blobName, "/"))
}

// ParseBlobEventKey parses a blob event key into its components
func ParseBlobEventKey(key string) (*BlobEventKey, error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid blob event key format: expected 3 parts separated by colons, got %d parts: %s", len(parts), key)
	}

	return &BlobEventKey{
		Container: parts[0],
		EventType: parts[1],
		BlobName:  parts[2],
	}, nil
}

// String returns the key in the standard format
func (k *BlobEventKey) String() string {
	return GenerateBlobEventKey(k.Container, k.EventType, k.BlobName)
}

// IsFailure checks if this key belongs to a failed relay
func (k *BlobEventKey) IsFailure() bool {
	return k.EventType == StatusFailed
}
