package transport

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/corvidrun/amqprpc/config"
)

// createPrivateQueue declares the transport's private reply queue,
// binds it into the headers exchange when a DLX is configured, and
// starts routing its deliveries through routePrivateMessage. It retries
// indefinitely on failure using the "private" backoff policy, since a
// transport with no private queue can never complete an RPC call.
//
// attempt controls the backoff delay applied before this call declares
// the queue: 0 waits immediately, 1 waits the "private" policy's
// minimum delay, and so on for internal retries after a declare or
// consume failure. A new creation cycle (the private queue was never
// declared, or was just torn down and needs recreating) is detected by
// the transport not already being in replyToPending, independent of
// attempt, so a caller kicking off recreation at attempt 1 to get an
// initial backoff still resets the readiness gate correctly.
func (t *Transport) createPrivateQueue(ctx context.Context, attempt int) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	freshCycle := t.replyState != replyToPending
	t.replyState = replyToPending
	if t.privateReady == nil || freshCycle {
		t.privateReady = make(chan struct{})
	}
	ready := t.privateReady
	name := t.replyToName
	if name == "" {
		name = privateQueueName()
	}
	t.mu.Unlock()

	if attempt > 0 {
		if err := waitForContext(ctx, t.backoffPrivate.Delay(attempt)); err != nil {
			return
		}
	}

	q, err := t.createQueue(ctx, name, t.privateQueueOpts())
	if err != nil {
		t.logger.Warn("private queue declaration failed, retrying", "error", err, "attempt", attempt+1)
		go t.createPrivateQueue(ctx, attempt+1)
		return
	}

	if dlx := t.dlxExchangeName(); dlx != "" {
		args := amqp.Table{"x-match": "any", "reply-to": q.Name}
		if err := t.facade.BindQueue(ctx, q.Name, dlx, "", args); err != nil {
			t.logger.Warn("private queue dlx binding failed", "error", err)
		}
	}

	if err := t.facade.Consume(ctx, q.Name, 1, t.routePrivateMessage); err != nil {
		t.logger.Warn("private queue consume failed, retrying", "error", err, "attempt", attempt+1)
		go t.createPrivateQueue(ctx, attempt+1)
		return
	}

	t.mu.Lock()
	t.replyToName = q.Name
	t.replyState = replyToReady
	close(ready)
	t.mu.Unlock()

	t.events.emit(Event{Kind: EventPrivateQueueReady, Payload: map[string]any{"queue": q.Name}})
}

// waitForPrivateQueue blocks until the private reply queue is ready,
// triggering its creation if nobody has yet, and returns its current
// name.
func (t *Transport) waitForPrivateQueue(ctx context.Context) (string, error) {
	for {
		t.mu.Lock()
		switch t.replyState {
		case replyToReady:
			name := t.replyToName
			t.mu.Unlock()
			return name, nil
		case replyToPending:
			ready := t.privateReady
			t.mu.Unlock()
			select {
			case <-ready:
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		default: // replyToUnknown
			t.mu.Unlock()
			go t.createPrivateQueue(context.Background(), 0)
			if err := waitForContext(ctx, 10*time.Millisecond); err != nil {
				return "", err
			}
		}
	}
}

func privateQueueName() string {
	return fmt.Sprintf("mq.%s", newCorrelationID())
}

// privateQueueOpts resolves the declare arguments for the private reply
// queue: exclusive, auto-delete and non-durable unless the caller
// explicitly configured otherwise, since nobody but this transport
// instance ever needs to see it and it should not outlive the
// connection that created it.
func (t *Transport) privateQueueOpts() config.QueueOpts {
	opts := t.cfg.PrivateQueueOpts
	if !opts.Durable && !opts.AutoDelete && !opts.Exclusive && opts.Arguments == nil {
		opts.AutoDelete = true
		opts.Exclusive = true
	}
	return opts
}
