package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher handles message publishing to RabbitMQ.
type Publisher struct {
	pool           *ChannelPool
	confirmTimeout time.Duration
	publishTimeout time.Duration
	maxRetries     int
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets the confirmation timeout
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublishTimeout sets the publish timeout
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.publishTimeout = timeout
	}
}

// WithPublishRetries sets the maximum number of publish retries
func WithPublishRetries(retries int) PublisherOption {
	return func(p *Publisher) {
		p.maxRetries = retries
	}
}

// NewPublisher creates a new publisher
func NewPublisher(pool *ChannelPool, options ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirmTimeout: 5 * time.Second,
		publishTimeout: 10 * time.Second,
		maxRetries:     3,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish publishes msg to exchange/routingKey, retrying transient
// failures with linear backoff. When confirm is true the call blocks
// until the broker acknowledges the message via publisher confirms;
// mandatory/immediate are forwarded to the AMQP publish itself.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing, mandatory, immediate, confirm bool) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := p.publishOnce(ctx, exchange, routingKey, msg, mandatory, immediate, confirm)
		if err == nil {
			return nil
		}

		lastErr = err
	}

	return fmt.Errorf("failed to publish after %d attempts: %w", p.maxRetries+1, lastErr)
}

func (p *Publisher) publishOnce(ctx context.Context, exchange, routingKey string, msg amqp.Publishing, mandatory, immediate, confirm bool) error {
	ch, err := p.pool.Get(ctx)
	if err != nil {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Mandatory:  mandatory,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}
	defer p.pool.Put(ch)

	var confirms chan amqp.Confirmation
	var returns chan amqp.Return
	if confirm {
		if err := ch.Confirm(false); err != nil {
			return fmt.Errorf("failed to enable confirms: %w", err)
		}
		confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}
	if mandatory {
		returns = ch.NotifyReturn(make(chan amqp.Return, 1))
	}

	if err := ch.PublishWithContext(ctx, exchange, routingKey, mandatory, immediate, msg); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	if !confirm {
		return nil
	}

	select {
	case conf := <-confirms:
		if !conf.Ack {
			return fmt.Errorf("message was nacked")
		}
		return nil

	case ret, ok := <-returns:
		if ok {
			return fmt.Errorf("message returned: %s", ret.ReplyText)
		}
		return nil

	case <-time.After(p.confirmTimeout):
		return fmt.Errorf("timeout waiting for confirmation")

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the publisher and releases resources
func (p *Publisher) Close() error {
	return nil
}
