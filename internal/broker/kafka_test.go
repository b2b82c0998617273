package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestHandleWithRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := handleWithRetry(context.Background(), func(ctx context.Context, msg kafka.Message) error {
		calls++
		if calls < 2 {
			return errors.New("smtp busy")
		}
		return nil
	}, kafka.Message{})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestHandleWithRetryStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := handleWithRetry(ctx, func(ctx context.Context, msg kafka.Message) error {
		calls++
		cancel()
		return errors.New("smtp busy")
	}, kafka.Message{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestHeaderValue(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte("ORDER_PAID")}}}
	assert.Equal(t, "ORDER_PAID", headerValue(msg, HeaderEventType))
	assert.Empty(t, headerValue(kafka.Message{}, HeaderEventType))
}
