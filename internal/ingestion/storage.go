package ingestion

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Log-Tools/csv-relay/internal/config"
)

// azureStorageClientFactory implements StorageClientFactory over one storage account
type azureStorageClientFactory struct {
	client *azblob.Client
}

// NewAzureStorageClientFactory creates a factory from a connection string or an account name and key
func NewAzureStorageClientFactory(cfg config.StorageConfig) (StorageClientFactory, error) {
	if cfg.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Blob client from connection string: %w", err)
		}
		return &azureStorageClientFactory{client: client}, nil
	}

	if cfg.AccountName == "" || cfg.AccountKey == "" {
		return nil, fmt.Errorf("storage requires a connection string or an account name and key")
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure shared key credential: %w", err)
	}

	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &azureStorageClientFactory{client: client}, nil
}

// CreateBlobClient creates a blob client for the specified container and blob
func (f *azureStorageClientFactory) CreateBlobClient(containerName, blobName string) (BlobClient, error) {
	if containerName == "" || blobName == "" {
		return nil, fmt.Errorf("container and blob name are required")
	}
	containerClient := f.client.ServiceClient().NewContainerClient(containerName)
	return &azureBlobClientWrapper{client: containerClient.NewBlobClient(blobName)}, nil
}

// azureBlobClientWrapper wraps Azure blob client to implement BlobClient interface
type azureBlobClientWrapper struct {
	client *blob.Client
}

// DownloadStream downloads blob stream
func (c *azureBlobClientWrapper) DownloadStream(ctx context.Context, options *blob.DownloadStreamOptions) (blob.DownloadStreamResponse, error) {
	return c.client.DownloadStream(ctx, options)
}
