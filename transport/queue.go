package transport

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/corvidrun/amqprpc/config"
	"github.com/corvidrun/amqprpc/internal/rabbitmq"
)

// isPreconditionFailed reports whether err is the broker's 406
// PRECONDITION-FAILED reply, raised when a queue already exists with
// different arguments.
func isPreconditionFailed(err error) bool {
	code, ok := rabbitmq.ReplyCode(err)
	return ok && rabbitmq.IsPreconditionFailed(code)
}

// declareQueueOpts resolves the durability/auto-delete/exclusive triple
// for a queue named name given the caller's overrides: an
// auto-generated name (name == "") always gets a private, ephemeral
// queue regardless of override, since no caller can hold a stable
// reference to a name it never chose.
func declareQueueOpts(name string, overrides config.QueueOpts) config.QueueOpts {
	if name == "" {
		return config.QueueOpts{Durable: false, AutoDelete: true, Exclusive: true, Arguments: overrides.Arguments}
	}
	return overrides
}

// dlxExchangeName returns the exchange DLX-demoted messages land on, or
// "" when no DLX is configured.
func (t *Transport) dlxExchangeName() string {
	if !t.cfg.DLX.Enabled {
		return ""
	}
	name, _ := t.cfg.DLX.Params["exchange"].(string)
	return name
}

// withDeadLetterExchange returns args with x-dead-letter-exchange set to
// the configured DLX exchange, so every queue the transport declares,
// private or routed, actually dead-letters into it once a message
// expires or is rejected. args is copied rather than mutated in place
// since callers hold onto the source config.QueueOpts across retries.
func (t *Transport) withDeadLetterExchange(args amqp.Table) amqp.Table {
	dlx := t.dlxExchangeName()
	if dlx == "" {
		return args
	}
	merged := amqp.Table{"x-dead-letter-exchange": dlx}
	for k, v := range args {
		merged[k] = v
	}
	return merged
}

// createQueue declares queue name with opts, injecting the DLX argument
// when configured. A 406 PRECONDITION-FAILED means a queue with
// different arguments already exists; that queue's existing definition
// is adopted via a passive declare rather than re-asserting the
// conflicting arguments a second time, which would only 406 again.
func (t *Transport) createQueue(ctx context.Context, name string, opts config.QueueOpts) (amqp.Queue, error) {
	args := t.withDeadLetterExchange(opts.Arguments)
	q, err := t.facade.DeclareQueue(ctx, name, opts.Durable, opts.AutoDelete, opts.Exclusive, args)
	if err == nil {
		return q, nil
	}
	if !isPreconditionFailed(err) {
		return amqp.Queue{}, err
	}
	q, err = t.facade.DeclareQueuePassive(ctx, name)
	if err != nil {
		return amqp.Queue{}, err
	}
	return q, nil
}

// waitForContext blocks until d elapses or ctx is done, returning
// ctx.Err() in the latter case.
func waitForContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
