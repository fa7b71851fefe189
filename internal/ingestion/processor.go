package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Log-Tools/csv-relay/internal/relay"
	"github.com/rs/zerolog/log"
)

// ErrObjectNotFound is returned when the object was deleted before it could be read
var ErrObjectNotFound = errors.New("source object not found")

// blobProcessor implements ObjectProcessor over blob storage
type blobProcessor struct {
	storageFactory StorageClientFactory
	handler        *relay.Handler
}

// NewBlobProcessor creates a new blob processor
func NewBlobProcessor(storageFactory StorageClientFactory, handler *relay.Handler) ObjectProcessor {
	return &blobProcessor{
		storageFactory: storageFactory,
		handler:        handler,
	}
}

// ProcessObject downloads one object and hands its body to the relay handler
func (p *blobProcessor) ProcessObject(ctx context.Context, info ObjectInfo) (*relay.Result, error) {
	log.Debug().
		Str("container", info.ContainerName).
		Str("blob", info.BlobName).
		Msg("Starting object download")

	blobClient, err := p.storageFactory.CreateBlobClient(info.ContainerName, info.BlobName)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	downloadResp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, info.Name())
		}
		return nil, fmt.Errorf("%w %s: download failed: %w", relay.ErrRead, info.Name(), err)
	}
	defer downloadResp.Body.Close()

	length := int64(-1)
	if downloadResp.ContentLength != nil {
		length = *downloadResp.ContentLength
	}

	return p.handler.Handle(ctx, relay.SourceObject{
		Name:   info.Name(),
		Length: length,
		Body:   downloadResp.Body,
	})
}

// ProcessFile relays a local file, for one-off runs without blob storage
func ProcessFile(ctx context.Context, handler *relay.Handler, path string) (*relay.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", relay.ErrRead, path, err)
	}
	defer f.Close()

	length := int64(-1)
	if stat, err := f.Stat(); err == nil {
		length = stat.Size()
	}

	return handler.Handle(ctx, relay.SourceObject{Name: path, Length: length, Body: f})
}
