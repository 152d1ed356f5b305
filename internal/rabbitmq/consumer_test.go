package rabbitmq

import (
	"errors"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// Mock channel for testing
type mockChannel struct {
	mock.Mock
	*amqp.Channel
}

func (m *mockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	args := m.Called(prefetchCount, prefetchSize, global)
	return args.Error(0)
}

func (m *mockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	mockArgs := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
	if mockArgs.Get(0) == nil {
		return nil, mockArgs.Error(1)
	}
	return mockArgs.Get(0).(<-chan amqp.Delivery), mockArgs.Error(1)
}

func (m *mockChannel) IsClosed() bool {
	args := m.Called()
	return args.Bool(0)
}

func TestConsumer(t *testing.T) {
	t.Run("NewConsumer creates with defaults", func(t *testing.T) {
		pool := &ChannelPool{}
		consumer := NewConsumer(pool)

		assert.Equal(t, pool, consumer.pool)
		assert.Equal(t, 10, consumer.prefetchCount)
		assert.Equal(t, 0, consumer.prefetchSize)
		assert.False(t, consumer.autoAck)
		assert.False(t, consumer.exclusive)
		assert.False(t, consumer.nackRequeue)
		assert.Empty(t, consumer.consumerTag)
		assert.NotNil(t, consumer.logger)
	})

	t.Run("NewConsumer applies options", func(t *testing.T) {
		pool := &ChannelPool{}
		logger := slog.Default()

		closed := ""
		var closedErr error
		consumer := NewConsumer(
			pool,
			WithPrefetchCount(20),
			WithAutoAck(true),
			WithExclusive(true),
			WithConsumerTag("test-consumer"),
			WithConsumerLogger(logger),
			WithNackRequeue(true),
			WithOnClose(func(queue string, err error) { closed = queue; closedErr = err }),
		)

		assert.Equal(t, 20, consumer.prefetchCount)
		assert.True(t, consumer.autoAck)
		assert.True(t, consumer.exclusive)
		assert.True(t, consumer.nackRequeue)
		assert.Equal(t, "test-consumer", consumer.consumerTag)
		assert.Equal(t, logger, consumer.logger)

		consumer.onClose("q", assert.AnError)
		assert.Equal(t, "q", closed)
		assert.Equal(t, assert.AnError, closedErr)
	})

	t.Run("GetActiveConsumers returns empty list initially", func(t *testing.T) {
		consumer := NewConsumer(&ChannelPool{})
		assert.Empty(t, consumer.GetActiveConsumers())
	})

	t.Run("Unsubscribe returns error for non-existent queue", func(t *testing.T) {
		consumer := NewConsumer(&ChannelPool{})
		err := consumer.Unsubscribe("non-existent")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no active consumer")
	})
}

// mockListener for testing
type mockListener struct {
	mock.Mock
}

func (m *mockListener) OnConnected() {
	m.Called()
}

func (m *mockListener) OnDisconnected(err error) {
	m.Called(err)
}

func (m *mockListener) OnReconnecting(attempt int) {
	m.Called(attempt)
}

func TestConnectionStateListener(t *testing.T) {
	t.Run("listener interface", func(t *testing.T) {
		// Verify it implements the interface
		var _ ConnectionStateListener = (*mockListener)(nil)

		listener := &mockListener{}
		listener.On("OnConnected").Return()
		listener.On("OnDisconnected", mock.Anything).Return()
		listener.On("OnReconnecting", 1).Return()

		listener.OnConnected()
		listener.OnDisconnected(errors.New("test"))
		listener.OnReconnecting(1)

		listener.AssertExpectations(t)
	})
}
