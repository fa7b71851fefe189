package batching

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
	limits Limits
}

func (m *MockSender) SendBatch(ctx context.Context, batch Batch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func (m *MockSender) Limits() Limits {
	return m.limits
}

func batchWith(index int, messages ...string) interface{} {
	return mock.MatchedBy(func(b Batch) bool {
		if b.Index != index || len(b.Messages) != len(messages) {
			return false
		}
		for i := range messages {
			if b.Messages[i] != messages[i] {
				return false
			}
		}
		return true
	})
}

func TestPublisher_Publish(t *testing.T) {
	t.Run("sends a single batch when limits allow", func(t *testing.T) {
		sender := &MockSender{limits: Limits{MaxCount: 10}}
		sender.On("SendBatch", mock.Anything, batchWith(0, "Great product", "Could be better")).Return(nil).Once()

		report, err := NewPublisher(sender).Publish(context.Background(), "reviews.csv",
			[]string{"Great product", "Could be better"})

		require.NoError(t, err)
		assert.Equal(t, 1, report.Batches)
		assert.Equal(t, 2, report.Messages)
		assert.Equal(t, []int{2}, report.BatchSizes)
		sender.AssertExpectations(t)
	})

	t.Run("batch limit of one sends one call per message in row order", func(t *testing.T) {
		sender := &MockSender{limits: Limits{MaxCount: 1}}
		var order []string
		sender.On("SendBatch", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				order = append(order, args.Get(1).(Batch).Messages...)
			}).
			Return(nil)

		report, err := NewPublisher(sender).Publish(context.Background(), "reviews.csv",
			[]string{"first", "second", "third"})

		require.NoError(t, err)
		assert.Equal(t, 3, report.Batches)
		assert.Equal(t, []string{"first", "second", "third"}, order)
		sender.AssertNumberOfCalls(t, "SendBatch", 3)
	})

	t.Run("failure on second of three batches is surfaced and nothing is resent", func(t *testing.T) {
		busErr := errors.New("throttled")
		sender := &MockSender{limits: Limits{MaxCount: 1}}
		sender.On("SendBatch", mock.Anything, batchWith(0, "first")).Return(nil).Once()
		sender.On("SendBatch", mock.Anything, batchWith(1, "second")).Return(busErr).Once()

		report, err := NewPublisher(sender).Publish(context.Background(), "reviews.csv",
			[]string{"first", "second", "third"})

		require.Error(t, err)
		assert.Nil(t, report)
		assert.ErrorIs(t, err, busErr)

		var publishErr *PublishError
		require.ErrorAs(t, err, &publishErr)
		assert.Equal(t, "reviews.csv", publishErr.Object)
		assert.Equal(t, 1, publishErr.BatchIndex)
		assert.Equal(t, 3, publishErr.BatchCount)
		assert.Equal(t, 1, publishErr.BatchesSent)
		assert.Equal(t, 1, publishErr.MessagesSent)

		sender.AssertExpectations(t)
		sender.AssertNumberOfCalls(t, "SendBatch", 2)
	})

	t.Run("oversized message fails before any send", func(t *testing.T) {
		sender := &MockSender{limits: Limits{MaxBytes: 4}}

		_, err := NewPublisher(sender).Publish(context.Background(), "reviews.csv", []string{"ok", "too long"})

		assert.ErrorIs(t, err, ErrMessageTooLarge)
		sender.AssertNotCalled(t, "SendBatch", mock.Anything, mock.Anything)
	})

	t.Run("cancelled context stops before the next batch", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		sender := &MockSender{limits: Limits{MaxCount: 1}}
		sender.On("SendBatch", mock.Anything, batchWith(0, "first")).
			Run(func(mock.Arguments) { cancel() }).
			Return(nil).Once()

		_, err := NewPublisher(sender).Publish(ctx, "reviews.csv", []string{"first", "second"})

		assert.ErrorIs(t, err, context.Canceled)
		var publishErr *PublishError
		require.ErrorAs(t, err, &publishErr)
		assert.Equal(t, 1, publishErr.BatchesSent)
		sender.AssertNumberOfCalls(t, "SendBatch", 1)
	})
}

func TestPublishError_Message(t *testing.T) {
	err := &PublishError{
		Object:       "reviews.csv",
		BatchIndex:   1,
		BatchCount:   3,
		BatchesSent:  1,
		MessagesSent: 250,
		Err:          errors.New("connection reset"),
	}

	assert.Equal(t,
		"failed to publish batch 2/3 of reviews.csv (1 batch(es), 250 message(s) already sent): connection reset",
		err.Error())
}
