package events

// Kafka Topics
// These constants define the Kafka topics the relay reads from and writes to
const (
	// TopicBlobEvents carries storage notifications routed from Event Grid
	TopicBlobEvents = "Storage.BlobEvents"

	// TopicRelayStatus contains one status event per processed object
	TopicRelayStatus = "Relay.Status"
)
