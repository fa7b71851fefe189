package ingestion

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Log-Tools/csv-relay/internal/events"
	"github.com/Log-Tools/csv-relay/internal/relay"
)

// BlobClient interface abstracts Azure Blob Storage client
type BlobClient interface {
	DownloadStream(ctx context.Context, options *blob.DownloadStreamOptions) (blob.DownloadStreamResponse, error)
}

// StorageClientFactory interface abstracts storage client creation
type StorageClientFactory interface {
	CreateBlobClient(containerName, blobName string) (BlobClient, error)
}

// ObjectProcessor relays one stored object to the message bus
type ObjectProcessor interface {
	ProcessObject(ctx context.Context, info ObjectInfo) (*relay.Result, error)
}

// StatusReporter publishes the final status of an object
type StatusReporter interface {
	Report(ctx context.Context, event events.RelayStatusEvent) error
}

// ObjectInfo identifies an object to process
type ObjectInfo struct {
	ContainerName string
	BlobName      string
}

// Name is the object's display name, also used as the batch origin
func (o ObjectInfo) Name() string {
	return o.ContainerName + "/" + o.BlobName
}
