package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes incoming messages
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer manages message consumption from RabbitMQ
type Consumer struct {
	pool            *ChannelPool
	prefetchCount   int
	prefetchSize    int
	autoAck         bool
	exclusive       bool
	noLocal         bool
	noWait          bool
	nackRequeue     bool
	consumerTag     string
	logger          *slog.Logger
	activeConsumers sync.Map
	onClose         func(queue string, err error)
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithAutoAck enables automatic acknowledgment
func WithAutoAck(autoAck bool) ConsumerOption {
	return func(c *Consumer) {
		c.autoAck = autoAck
	}
}

// WithExclusive sets exclusive consumer mode
func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *Consumer) {
		c.exclusive = exclusive
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithNackRequeue controls whether a handler error causes the delivery
// to be requeued (true) or dead-lettered (false, the default). This
// module relies on DLX-based demotion for expired/failed RPC requests,
// not an immediate requeue loop, so the default differs from most AMQP
// consumer libraries.
func WithNackRequeue(requeue bool) ConsumerOption {
	return func(c *Consumer) {
		c.nackRequeue = requeue
	}
}

// WithOnClose registers a callback invoked once when a subscription's
// delivery channel stops being read, for any reason (broker cancel,
// channel close, or explicit Unsubscribe). err is the *amqp.Error that
// closed the underlying channel, if any (nil for an explicit
// Unsubscribe or a plain broker cancel with no channel exception). It
// is the hook the façade uses to surface a "consumer-close" event,
// with its reply code, to the transport core.
func WithOnClose(fn func(queue string, err error)) ConsumerOption {
	return func(c *Consumer) {
		c.onClose = fn
	}
}

// NewConsumer creates a new consumer
func NewConsumer(pool *ChannelPool, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:          pool,
		prefetchCount: 10,
		prefetchSize:  0,
		autoAck:       false,
		exclusive:     false,
		noLocal:       false,
		noWait:        false,
		nackRequeue:   false,
		consumerTag:   "",
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// ConsumerInfo tracks active consumer information
type ConsumerInfo struct {
	Queue       string
	ConsumerTag string
	Channel     *PooledChannel
	Cancel      context.CancelFunc
	Done        chan struct{}
	closeErrs   chan *amqp.Error
}

// Subscribe starts consuming messages from a queue
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.pool.Get(ctx)
	if err != nil {
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: c.consumerTag,
			Op:          "subscribe",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	// Set QoS
	if err := ch.Qos(c.prefetchCount, c.prefetchSize, false); err != nil {
		c.pool.Put(ch)
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	// Start consuming
	deliveries, err := ch.Consume(
		queue,
		c.consumerTag,
		c.autoAck,
		c.exclusive,
		c.noLocal,
		c.noWait,
		nil,
	)
	if err != nil {
		c.pool.Put(ch)
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	// Create consumer context
	consumerCtx, cancel := context.WithCancel(ctx)

	tag := c.consumerTag
	if tag == "" {
		tag = ch.id // Use channel ID as consumer tag if not specified
	}

	info := &ConsumerInfo{
		Queue:       queue,
		ConsumerTag: tag,
		Channel:     ch,
		Cancel:      cancel,
		Done:        make(chan struct{}),
		closeErrs:   ch.Channel.NotifyClose(make(chan *amqp.Error, 1)),
	}

	// Store consumer info
	c.activeConsumers.Store(queue, info)

	// Start processing messages
	go c.processMessages(consumerCtx, info, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", info.ConsumerTag,
		"prefetchCount", c.prefetchCount,
	)

	return nil
}

// processMessages handles incoming messages
func (c *Consumer) processMessages(ctx context.Context, info *ConsumerInfo, deliveries <-chan amqp.Delivery, handler MessageHandler) {
	var closeErr error

	defer func() {
		close(info.Done)
		c.pool.Put(info.Channel)
		c.activeConsumers.Delete(info.Queue)
		c.logger.Info("consumer stopped", "queue", info.Queue)
		if c.onClose != nil {
			c.onClose(info.Queue, closeErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case amqpErr, ok := <-info.closeErrs:
			if ok {
				closeErr = amqpErr
				c.logger.Warn("channel closed", "queue", info.Queue, "error", amqpErr)
			}
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", info.Queue)
				return
			}

			// Trampoline: hand the delivery to its own goroutine so a
			// slow handler doesn't stall the receive loop and later
			// deliveries can be processed concurrently up to the
			// channel's prefetch count.
			go func(d amqp.Delivery) {
				if err := c.handleMessage(ctx, d, handler); err != nil {
					c.logger.Error("failed to handle message",
						"error", err,
						"queue", info.Queue,
						"messageId", d.MessageId,
					)
				}
			}(delivery)
		}
	}
}

// handleMessage processes a single message
func (c *Consumer) handleMessage(ctx context.Context, delivery amqp.Delivery, handler MessageHandler) error {
	// Create message context with timeout
	msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Execute handler
	err := handler(msgCtx, delivery)
	
	// Handle acknowledgment if not auto-ack
	if !c.autoAck {
		if err != nil {
			if nackErr := delivery.Nack(false, c.nackRequeue); nackErr != nil {
				c.logger.Error("failed to nack message",
					"error", nackErr,
					"originalError", err,
				)
			}
		} else {
			// Acknowledge successful processing
			if ackErr := delivery.Ack(false); ackErr != nil {
				c.logger.Error("failed to ack message", "error", ackErr)
			}
		}
	}

	return err
}

// Unsubscribe stops consuming from a queue
func (c *Consumer) Unsubscribe(queue string) error {
	value, ok := c.activeConsumers.Load(queue)
	if !ok {
		return fmt.Errorf("no active consumer for queue: %s", queue)
	}

	info := value.(*ConsumerInfo)
	
	// Cancel consumer context
	info.Cancel()
	
	// Wait for consumer to stop
	<-info.Done

	return nil
}

// UnsubscribeAll stops all active consumers
func (c *Consumer) UnsubscribeAll() error {
	var wg sync.WaitGroup
	
	c.activeConsumers.Range(func(key, value interface{}) bool {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			if err := c.Unsubscribe(queue); err != nil {
				c.logger.Error("failed to unsubscribe", "queue", queue, "error", err)
			}
		}(key.(string))
		return true
	})

	wg.Wait()
	return nil
}

// GetActiveConsumers returns a list of active consumer queues
func (c *Consumer) GetActiveConsumers() []string {
	var queues []string
	c.activeConsumers.Range(func(key, value interface{}) bool {
		queues = append(queues, key.(string))
		return true
	})
	return queues
}

