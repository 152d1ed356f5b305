package transport

import (
	"context"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/corvidrun/amqprpc/config"
	"github.com/corvidrun/amqprpc/contracts"
)

// Route pairs a routing key with the arguments used to bind it: plain
// exchanges use RoutingKey alone, the headers exchange (when mirrored)
// matches a "routing-key" header equal to RoutingKey, plus any Args,
// with x-match=any.
type Route struct {
	RoutingKey string
	Args       amqp.Table
}

// consumerBinding is the persistent record of one long-running
// consumer: its queue name, the handler it dispatches to, the union of
// routes ever requested for it, and the options it was declared with.
// It survives reconnects; establishConsumer is re-run against it every
// time the underlying connection becomes ready.
type consumerBinding struct {
	bindingID string
	queue     string
	handler   MessageHandler
	opts      config.QueueOpts
	mirror    bool
	routes    []Route
}

// MessageHandler processes one inbound message. Returning an error
// nacks the delivery (dead-lettering it if a DLX is configured);
// returning nil acks it.
type MessageHandler func(ctx context.Context, msg InboundMessage) error

// InboundMessage is what a consumed-queue handler sees: the decoded
// body plus the properties a handler might need to reply or trace.
type InboundMessage struct {
	RoutingKey    string
	Body          any
	ContentType   string
	CorrelationID string
	ReplyTo       string
	Headers       amqp.Table
	AppID         string
}

// CreateConsumedQueue declares queue (or lets the broker pick a name
// when queue == ""), binds it to routes on the default exchange, and
// starts dispatching deliveries to handler. When mirror is true and a
// headers exchange is configured, the same queue is also bound there
// so DLX and fanout-by-header consumers can reach it; routes containing
// a wildcard binding key ("*" or "#") are rejected for headers-exchange
// mirroring since header matching has no wildcard concept.
func (t *Transport) CreateConsumedQueue(ctx context.Context, queue string, handler MessageHandler, mirror bool, opts config.QueueOpts, routes ...Route) (string, error) {
	if mirror {
		for _, r := range routes {
			if strings.ContainsAny(r.RoutingKey, "*#") {
				return "", &contracts.ArgumentError{Name: "routes", Message: "wildcard routing keys cannot be mirrored to a headers exchange"}
			}
		}
	}

	binding := &consumerBinding{
		bindingID: newCorrelationID(),
		queue:     queue,
		handler:   handler,
		opts:      declareQueueOpts(queue, opts),
		mirror:    mirror,
		routes:    routes,
	}

	// Registered before the first establish attempt: a failed first
	// attempt still schedules a background retry (see establishConsumer),
	// and that retry needs to find this binding through t.bindings just
	// like a reconnect-driven re-establishment would.
	t.mu.Lock()
	t.bindings[binding.bindingID] = binding
	t.mu.Unlock()

	if err := t.establishConsumer(ctx, binding, 0); err != nil {
		return "", err
	}

	return binding.queue, nil
}

// AddRoute binds an additional route to an already-established consumer
// so the next reconnect's establishConsumer call re-creates every route
// ever requested for the queue, not just the ones from CreateConsumedQueue.
func (t *Transport) AddRoute(ctx context.Context, bindingID string, route Route) error {
	t.mu.Lock()
	binding, ok := t.bindings[bindingID]
	t.mu.Unlock()
	if !ok {
		return &contracts.ArgumentError{Name: "bindingID", Message: "unknown binding"}
	}

	if binding.mirror && strings.ContainsAny(route.RoutingKey, "*#") {
		return &contracts.ArgumentError{Name: "route", Message: "wildcard routing keys cannot be mirrored to a headers exchange"}
	}

	if err := t.bindRoute(ctx, binding, route); err != nil {
		return err
	}

	t.mu.Lock()
	binding.routes = append(binding.routes, route)
	t.mu.Unlock()
	return nil
}

func (t *Transport) bindRoute(ctx context.Context, binding *consumerBinding, route Route) error {
	if err := t.facade.BindQueue(ctx, binding.queue, t.cfg.Exchange, route.RoutingKey, route.Args); err != nil {
		return err
	}
	if binding.mirror && t.cfg.HeadersExchange != "" {
		args := amqp.Table{"x-match": "any", "routing-key": route.RoutingKey}
		for k, v := range route.Args {
			args[k] = v
		}
		if err := t.facade.BindQueue(ctx, binding.queue, t.cfg.HeadersExchange, "", args); err != nil {
			return err
		}
	}
	return nil
}

// establishConsumer declares binding's queue, (re-)binds its full route
// set, and starts a fresh consumer on it. It retries with the
// "consumed" backoff policy on failure and emits
// EventConsumedQueueReconnected once the consumer resumes after attempt
// > 0, distinguishing a retried or reconnect-driven resumption from the
// initial CreateConsumedQueue call. watchReady's attempt-0 re-run emits
// the event itself when it succeeds.
func (t *Transport) establishConsumer(ctx context.Context, binding *consumerBinding, attempt int) error {
	if attempt > 0 {
		if err := waitForContext(ctx, t.backoffConsumed.Delay(attempt)); err != nil {
			return err
		}
	}

	q, err := t.createQueue(ctx, binding.queue, binding.opts)
	if err != nil {
		t.logger.Warn("consumed queue declaration failed, retrying", "queue", binding.queue, "error", err, "attempt", attempt+1)
		go t.establishConsumer(context.Background(), binding, attempt+1)
		return err
	}
	binding.queue = q.Name

	for _, r := range binding.routes {
		if err := t.bindRoute(ctx, binding, r); err != nil {
			t.logger.Warn("consumed queue route bind failed", "queue", binding.queue, "routingKey", r.RoutingKey, "error", err)
		}
	}

	handler := t.routeConsumedMessage(binding)
	if err := t.facade.Consume(ctx, binding.queue, t.consumerPrefetch(), handler); err != nil {
		t.logger.Warn("consumed queue subscribe failed, retrying", "queue", binding.queue, "error", err, "attempt", attempt+1)
		go t.establishConsumer(context.Background(), binding, attempt+1)
		return err
	}

	if attempt > 0 {
		t.events.emit(Event{Kind: EventConsumedQueueReconnected, Payload: map[string]any{"bindingId": binding.bindingID, "queue": binding.queue}})
	}
	return nil
}

func (t *Transport) consumerPrefetch() int {
	if t.cfg.DefaultQueueOpts.Arguments != nil {
		if v, ok := t.cfg.DefaultQueueOpts.Arguments["x-prefetch"].(int); ok && v > 0 {
			return v
		}
	}
	return 10
}
