package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Log-Tools/csv-relay/internal/batching"
	"github.com/Log-Tools/csv-relay/internal/events"
	"github.com/Log-Tools/csv-relay/internal/relay"
	"github.com/Log-Tools/csv-relay/internal/sink"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock implementations for testing
type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	args := m.Called(msg, deliveryChan)
	return args.Error(0)
}

func (m *MockProducer) Events() chan kafka.Event {
	args := m.Called()
	return args.Get(0).(chan kafka.Event)
}

func (m *MockProducer) Flush(timeoutMs int) int {
	args := m.Called(timeoutMs)
	return args.Int(0)
}

func (m *MockProducer) Close() {
	m.Called()
}

type MockBlobClient struct {
	mock.Mock
}

func (m *MockBlobClient) DownloadStream(ctx context.Context, options *blob.DownloadStreamOptions) (blob.DownloadStreamResponse, error) {
	args := m.Called(ctx, options)
	return args.Get(0).(blob.DownloadStreamResponse), args.Error(1)
}

type MockStorageClientFactory struct {
	mock.Mock
}

func (m *MockStorageClientFactory) CreateBlobClient(containerName, blobName string) (BlobClient, error) {
	args := m.Called(containerName, blobName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(BlobClient), args.Error(1)
}

const reviewsCSV = "text,rating\nGreat product,5\n,3\nWould buy again,4\n"

// createMockDownloadResponse creates a mock response for testing
func createMockDownloadResponse(content []byte, contentLength *int64) blob.DownloadStreamResponse {
	response := blob.DownloadStreamResponse{}
	response.Body = io.NopCloser(bytes.NewReader(content))
	response.ContentLength = contentLength
	return response
}

func newTestHandler(t *testing.T, s *sink.MockSink) *relay.Handler {
	t.Helper()
	if s.BatchLimits == (batching.Limits{}) {
		s.BatchLimits = batching.Limits{MaxCount: 100, MaxBytes: 1 << 20}
	}
	handler, err := relay.NewHandler(s, relay.Options{Comma: ','}, nil)
	require.NoError(t, err)
	return handler
}

func int64Ptr(v int64) *int64 {
	return &v
}

func TestObjectInfo_Name(t *testing.T) {
	info := ObjectInfo{ContainerName: "reviews", BlobName: "2024/06/09/reviews.csv"}
	assert.Equal(t, "reviews/2024/06/09/reviews.csv", info.Name())
}

func TestBlobProcessor_ProcessObject(t *testing.T) {
	info := ObjectInfo{ContainerName: "reviews", BlobName: "reviews.csv"}

	t.Run("successful relay", func(t *testing.T) {
		mockStorageFactory := &MockStorageClientFactory{}
		mockBlobClient := &MockBlobClient{}
		mockSink := &sink.MockSink{}

		content := []byte(reviewsCSV)
		mockStorageFactory.On("CreateBlobClient", "reviews", "reviews.csv").Return(mockBlobClient, nil)
		mockBlobClient.On("DownloadStream", mock.Anything, mock.Anything).
			Return(createMockDownloadResponse(content, int64Ptr(int64(len(content)))), nil)

		processor := NewBlobProcessor(mockStorageFactory, newTestHandler(t, mockSink))
		result, err := processor.ProcessObject(context.Background(), info)

		require.NoError(t, err)
		assert.Equal(t, relay.OutcomePublished, result.Outcome)
		assert.Equal(t, 3, result.RowsRead)
		assert.Equal(t, 1, result.RowsSkipped)
		assert.Equal(t, []string{"Great product", "Would buy again"}, mockSink.Messages())
		require.Len(t, mockSink.Batches, 1)
		assert.Equal(t, "reviews/reviews.csv", mockSink.Batches[0].Object)

		mockStorageFactory.AssertExpectations(t)
		mockBlobClient.AssertExpectations(t)
	})

	t.Run("unknown content length", func(t *testing.T) {
		mockStorageFactory := &MockStorageClientFactory{}
		mockBlobClient := &MockBlobClient{}
		mockSink := &sink.MockSink{}

		mockStorageFactory.On("CreateBlobClient", "reviews", "reviews.csv").Return(mockBlobClient, nil)
		mockBlobClient.On("DownloadStream", mock.Anything, mock.Anything).
			Return(createMockDownloadResponse([]byte(reviewsCSV), nil), nil)

		processor := NewBlobProcessor(mockStorageFactory, newTestHandler(t, mockSink))
		result, err := processor.ProcessObject(context.Background(), info)

		require.NoError(t, err)
		assert.Equal(t, 2, result.Messages)
	})

	t.Run("blob client creation fails", func(t *testing.T) {
		mockStorageFactory := &MockStorageClientFactory{}
		mockSink := &sink.MockSink{}
		mockStorageFactory.On("CreateBlobClient", "reviews", "reviews.csv").Return(nil, errors.New("bad credentials"))

		processor := NewBlobProcessor(mockStorageFactory, newTestHandler(t, mockSink))
		_, err := processor.ProcessObject(context.Background(), info)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad credentials")
		assert.Zero(t, mockSink.Calls)
	})

	t.Run("download failure is a read failure", func(t *testing.T) {
		mockStorageFactory := &MockStorageClientFactory{}
		mockBlobClient := &MockBlobClient{}
		mockSink := &sink.MockSink{}

		mockStorageFactory.On("CreateBlobClient", "reviews", "reviews.csv").Return(mockBlobClient, nil)
		mockBlobClient.On("DownloadStream", mock.Anything, mock.Anything).
			Return(blob.DownloadStreamResponse{}, errors.New("connection reset"))

		processor := NewBlobProcessor(mockStorageFactory, newTestHandler(t, mockSink))
		_, err := processor.ProcessObject(context.Background(), info)

		require.Error(t, err)
		assert.ErrorIs(t, err, relay.ErrRead)
		assert.Equal(t, relay.FailureRead, relay.Classify(err))
		assert.Zero(t, mockSink.Calls)
	})

	t.Run("missing blob", func(t *testing.T) {
		mockStorageFactory := &MockStorageClientFactory{}
		mockBlobClient := &MockBlobClient{}
		mockSink := &sink.MockSink{}

		notFound := &azcore.ResponseError{ErrorCode: "BlobNotFound", StatusCode: http.StatusNotFound}
		mockStorageFactory.On("CreateBlobClient", "reviews", "reviews.csv").Return(mockBlobClient, nil)
		mockBlobClient.On("DownloadStream", mock.Anything, mock.Anything).
			Return(blob.DownloadStreamResponse{}, notFound)

		processor := NewBlobProcessor(mockStorageFactory, newTestHandler(t, mockSink))
		_, err := processor.ProcessObject(context.Background(), info)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrObjectNotFound)
		assert.Zero(t, mockSink.Calls)
	})

	t.Run("publish failure surfaces", func(t *testing.T) {
		mockStorageFactory := &MockStorageClientFactory{}
		mockBlobClient := &MockBlobClient{}
		mockSink := &sink.MockSink{SendErr: errors.New("broker unavailable")}

		mockStorageFactory.On("CreateBlobClient", "reviews", "reviews.csv").Return(mockBlobClient, nil)
		mockBlobClient.On("DownloadStream", mock.Anything, mock.Anything).
			Return(createMockDownloadResponse([]byte(reviewsCSV), nil), nil)

		processor := NewBlobProcessor(mockStorageFactory, newTestHandler(t, mockSink))
		_, err := processor.ProcessObject(context.Background(), info)

		require.Error(t, err)
		assert.Equal(t, relay.FailurePublish, relay.Classify(err))
	})
}

func TestProcessFile(t *testing.T) {
	t.Run("relays a local file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reviews.csv")
		require.NoError(t, os.WriteFile(path, []byte(reviewsCSV), 0o600))

		mockSink := &sink.MockSink{}
		result, err := ProcessFile(context.Background(), newTestHandler(t, mockSink), path)

		require.NoError(t, err)
		assert.Equal(t, 2, result.Messages)
		assert.Equal(t, path, mockSink.Batches[0].Object)
	})

	t.Run("missing file", func(t *testing.T) {
		mockSink := &sink.MockSink{}
		_, err := ProcessFile(context.Background(), newTestHandler(t, mockSink), filepath.Join(t.TempDir(), "nope.csv"))

		require.Error(t, err)
		assert.ErrorIs(t, err, relay.ErrRead)
	})
}

func TestKafkaStatusReporter(t *testing.T) {
	event := events.RelayStatusEvent{
		Container:     "reviews",
		BlobName:      "reviews.csv",
		Status:        events.StatusPublished,
		Attempts:      1,
		MessagesSent:  2,
		BatchesSent:   1,
		ProcessedDate: time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC),
	}

	t.Run("empty topic disables reporting", func(t *testing.T) {
		reporter := NewKafkaStatusReporter(&MockProducer{}, "")
		assert.NoError(t, reporter.Report(context.Background(), event))
	})

	t.Run("sends keyed JSON and waits for delivery", func(t *testing.T) {
		mockProducer := &MockProducer{}
		producerEvents := make(chan kafka.Event)
		defer close(producerEvents)

		var sent *kafka.Message
		mockProducer.On("Events").Return(producerEvents)
		mockProducer.On("Produce", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			sent = args.Get(0).(*kafka.Message)
			args.Get(1).(chan kafka.Event) <- sent
		}).Return(nil)

		reporter := NewKafkaStatusReporter(mockProducer, events.TopicRelayStatus)
		require.NoError(t, reporter.Report(context.Background(), event))

		require.NotNil(t, sent)
		assert.Equal(t, events.TopicRelayStatus, *sent.TopicPartition.Topic)
		assert.Equal(t, "reviews:published:reviews.csv", string(sent.Key))

		var decoded events.RelayStatusEvent
		require.NoError(t, json.Unmarshal(sent.Value, &decoded))
		assert.Equal(t, event, decoded)
	})

	t.Run("delivery failure", func(t *testing.T) {
		mockProducer := &MockProducer{}
		producerEvents := make(chan kafka.Event)
		defer close(producerEvents)

		mockProducer.On("Events").Return(producerEvents)
		mockProducer.On("Produce", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			msg := args.Get(0).(*kafka.Message)
			msg.TopicPartition.Error = errors.New("topic authorization failed")
			args.Get(1).(chan kafka.Event) <- msg
		}).Return(nil)

		reporter := NewKafkaStatusReporter(mockProducer, events.TopicRelayStatus)
		err := reporter.Report(context.Background(), event)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "topic authorization failed")
	})

	t.Run("produce rejected", func(t *testing.T) {
		mockProducer := &MockProducer{}
		producerEvents := make(chan kafka.Event)
		defer close(producerEvents)

		mockProducer.On("Events").Return(producerEvents)
		mockProducer.On("Produce", mock.Anything, mock.Anything).Return(errors.New("queue full"))

		reporter := NewKafkaStatusReporter(mockProducer, events.TopicRelayStatus)
		assert.Error(t, reporter.Report(context.Background(), event))
	})

	t.Run("context expires before delivery", func(t *testing.T) {
		mockProducer := &MockProducer{}
		producerEvents := make(chan kafka.Event)
		defer close(producerEvents)

		mockProducer.On("Events").Return(producerEvents)
		mockProducer.On("Produce", mock.Anything, mock.Anything).Return(nil)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		reporter := NewKafkaStatusReporter(mockProducer, events.TopicRelayStatus)
		err := reporter.Report(ctx, event)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
