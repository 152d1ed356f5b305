// Package transport implements the AMQP RPC/worker-queue core: a single
// Transport owns the broker connection, the private reply queue used
// for RPC replies, any number of long-running routed consumers, and the
// response cache and reply-storage collaborators that make
// PublishAndWait/SendAndWait possible.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corvidrun/amqprpc/cache"
	"github.com/corvidrun/amqprpc/config"
	"github.com/corvidrun/amqprpc/contracts"
	"github.com/corvidrun/amqprpc/internal/rabbitmq"
	"github.com/corvidrun/amqprpc/internal/reliability"
	"github.com/corvidrun/amqprpc/replystore"
	"github.com/corvidrun/amqprpc/serialization"
	"github.com/corvidrun/amqprpc/tracing"
)

// replyToState is the tri-state lifecycle of the private reply queue's
// name: Unknown (never created), Pending (creation in flight), Ready
// (usable, name populated).
type replyToState int

const (
	replyToUnknown replyToState = iota
	replyToPending
	replyToReady
)

// appIdentity is JSON-encoded into the outbound AMQP appId property.
type appIdentity struct {
	Name         string `json:"name"`
	Host         string `json:"host"`
	PID          int    `json:"pid"`
	UtilsVersion string `json:"utils_version"`
	Version      string `json:"version"`
}

// Transport is the single exported entry point: one Transport owns the
// broker connection, the private reply queue, every routed consumer
// binding, and the reply-storage/cache/codec/tracer collaborators the
// RPC path is built from.
type Transport struct {
	cfg    config.Config
	facade *rabbitmq.Facade
	logger *slog.Logger
	tracer *tracing.Tracer
	codec  *serialization.Codec
	cache  *cache.Cache

	replies *replystore.Store

	backoffPrivate  reliability.Policy
	backoffConsumed reliability.Policy

	appID string

	mu           sync.Mutex
	replyState   replyToState
	replyToName  string
	privateReady chan struct{}
	bindings     map[string]*consumerBinding

	events *eventBus
	closed bool
}

// Option customizes a Transport before it connects.
type Option func(*Transport)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithTracer overrides the default no-op tracer.
func WithTracer(tracer *tracing.Tracer) Option {
	return func(t *Transport) { t.tracer = tracer }
}

// New validates cfg and constructs a Transport. Connect must be called
// before any publish/consume operation.
func New(cfg config.Config, opts ...Option) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &contracts.ValidationError{Message: err.Error()}
	}

	c, err := cache.New(cfg.CacheCapacity)
	if err != nil {
		return nil, err
	}

	privatePolicy, _ := reliability.NamedPolicy("private")
	consumedPolicy, _ := reliability.NamedPolicy("consumed")
	if cfg.Recovery.Private != (config.RecoveryPolicy{}) {
		privatePolicy = reliability.Policy{Min: cfg.Recovery.Private.Min, Max: cfg.Recovery.Private.Max, Factor: cfg.Recovery.Private.Factor}
	}
	if cfg.Recovery.Consumed != (config.RecoveryPolicy{}) {
		consumedPolicy = reliability.Policy{Min: cfg.Recovery.Consumed.Min, Max: cfg.Recovery.Consumed.Max, Factor: cfg.Recovery.Consumed.Factor}
	}

	host, _ := os.Hostname()
	appID, err := json.Marshal(appIdentity{
		Name:    cfg.Name,
		Host:    host,
		PID:     os.Getpid(),
		Version: cfg.Version,
	})
	if err != nil {
		return nil, err
	}

	t := &Transport{
		cfg:             cfg,
		facade:          rabbitmq.NewFacade(cfg.Connection),
		logger:          slog.Default(),
		codec:           serialization.New(),
		cache:           c,
		replies:         replystore.New(),
		backoffPrivate:  privatePolicy,
		backoffConsumed: consumedPolicy,
		appID:           string(appID),
		bindings:        make(map[string]*consumerBinding),
		events:          newEventBus(),
	}

	for _, opt := range opts {
		opt(t)
	}
	if t.tracer == nil {
		t.tracer = tracing.New(nil, nil)
	}

	return t, nil
}

// Connect dials the broker. It refuses to run again while the façade is
// Opening, Open or Reconnecting. On success it wires reconnect-driven
// re-establishment of every consumer binding and, if the caller
// declared a private queue is needed (a prior name is remembered, or
// this is the first connect and RPC calls will need one), triggers
// private-queue creation.
func (t *Transport) Connect(ctx context.Context) error {
	switch t.facade.State() {
	case rabbitmq.StateOpening, rabbitmq.StateOpen, rabbitmq.StateReconnecting:
		return &contracts.InvalidOperationError{Op: "Connect", Message: fmt.Sprintf("already %s", t.facade.State())}
	}

	if err := t.facade.Connect(ctx); err != nil {
		return &contracts.ConnectionError{Op: "connect", Err: err, When: time.Now()}
	}

	if err := t.facade.DeclareExchange(ctx, t.cfg.Exchange, t.cfg.ExchangeType, true, false, t.cfg.ExchangeArgs); err != nil {
		return &contracts.ConnectionError{Op: "declare default exchange", Err: err, When: time.Now()}
	}

	if t.cfg.HeadersExchange != "" {
		if err := t.facade.DeclareExchange(ctx, t.cfg.HeadersExchange, "headers", true, false, nil); err != nil {
			return &contracts.ConnectionError{Op: "declare headers exchange", Err: err, When: time.Now()}
		}
	}

	if t.cfg.DLX.Enabled {
		if dlxExchange, ok := t.cfg.DLX.Params["exchange"].(string); ok && dlxExchange != "" {
			if err := t.facade.DeclareExchange(ctx, dlxExchange, "headers", true, false, nil); err != nil {
				return &contracts.ConnectionError{Op: "declare dlx exchange", Err: err, When: time.Now()}
			}
		}
	}

	go t.watchReady(ctx)
	go t.watchConsumerErrors(ctx)

	t.mu.Lock()
	needsPrivate := t.replyState == replyToUnknown && t.replyToName == ""
	t.mu.Unlock()
	if needsPrivate {
		go t.createPrivateQueue(context.Background(), 0)
	}

	t.events.emit(Event{Kind: EventReady})
	return nil
}

// watchReady re-runs private-queue creation and every consumer
// binding's establishConsumer closure each time the underlying
// connection becomes ready again, satisfying the reconnect-continuity
// guarantee: the private reply queue must be re-declared before any RPC
// proceeds, and every binding must resume exactly once per reconnect.
func (t *Transport) watchReady(ctx context.Context) {
	for range t.facade.Ready() {
		t.mu.Lock()
		name := t.replyToName
		t.mu.Unlock()
		if name != "" {
			go t.createPrivateQueue(context.Background(), 0)
		}

		t.mu.Lock()
		bindings := make([]*consumerBinding, 0, len(t.bindings))
		for _, b := range t.bindings {
			bindings = append(bindings, b)
		}
		t.mu.Unlock()

		for _, b := range bindings {
			go func(b *consumerBinding) {
				if err := t.establishConsumer(context.Background(), b, 0); err == nil {
					t.events.emit(Event{Kind: EventConsumedQueueReconnected, Payload: map[string]any{"bindingId": b.bindingID, "queue": b.queue}})
				}
			}(b)
		}
	}
}

// watchConsumerErrors re-establishes whichever consumer (private queue
// or a routed binding) just had its delivery loop stop outside of a
// full reconnect — a broker-initiated cancel, most often, since the
// channel pool otherwise keeps the underlying connection up. The
// underlying AMQP reply code, when the closure came from a channel
// exception, decides whether that means "log and move on", "rebind",
// or (for the private queue specifically) "surface as an error":
//
//   - 311/313 on a routed binding: log-only, no rebind.
//   - 404 naming the private queue: recreate it.
//   - anything else on the private queue: emit EventError rather than
//     silently recreating, per the private-consumer error contract.
//   - anything else on a routed binding: rebind.
func (t *Transport) watchConsumerErrors(ctx context.Context) {
	for evt := range t.facade.ConsumerErrors() {
		t.events.emit(Event{Kind: EventConsumerClose, Payload: map[string]any{"queue": evt.Queue}})

		code, hasCode := rabbitmq.ReplyCode(evt.Err)

		t.mu.Lock()
		isPrivate := evt.Queue != "" && evt.Queue == t.replyToName
		if isPrivate {
			t.replyState = replyToUnknown
		}
		var target *consumerBinding
		for _, b := range t.bindings {
			if b.queue == evt.Queue {
				target = b
				break
			}
		}
		t.mu.Unlock()

		switch {
		case isPrivate && hasCode && rabbitmq.IsNotFound(code):
			go t.createPrivateQueue(context.Background(), 1)
		case isPrivate:
			t.events.emit(Event{Kind: EventError, Payload: map[string]any{"queue": evt.Queue, "err": evt.Err}})
		case target != nil && hasCode && rabbitmq.IsLogOnly(code):
			t.logger.Info("consumer closed with log-only reply code, ignoring", "queue", evt.Queue, "code", code)
		case target != nil:
			go t.establishConsumer(context.Background(), target, 1)
		}
	}
}

// Events returns a channel receiving every event the transport emits.
func (t *Transport) Events() <-chan Event { return t.events.Subscribe() }

// OnReady registers fn to run each time the transport becomes ready.
func (t *Transport) OnReady(fn func()) { t.events.OnReady(fn) }

// OnError registers fn to run whenever the transport emits an error
// event (an unexpected condition on the private consumer, most often).
func (t *Transport) OnError(fn func(error)) { t.events.OnError(fn) }

// InspectQueue returns broker-reported statistics for name.
func (t *Transport) InspectQueue(ctx context.Context, name string) (QueueInfo, error) {
	q, err := t.facade.InspectQueue(ctx, name)
	if err != nil {
		return QueueInfo{}, err
	}
	return QueueInfo{Name: q.Name, Messages: q.Messages, Consumers: q.Consumers}, nil
}

// QueueInfo is the read-only queue statistics surface exposed to callers.
type QueueInfo struct {
	Name      string
	Messages  int
	Consumers int
}

// Close tears down the connection and rejects every pending RPC call
// with a connection error, so no caller is left waiting forever.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.replies.RejectAll(&contracts.ConnectionError{Op: "close", Err: fmt.Errorf("transport closed"), When: time.Now()})

	err := t.facade.Close()
	t.events.emit(Event{Kind: EventClose, Payload: map[string]any{"err": err}})
	return err
}

func newCorrelationID() string {
	return uuid.NewString()
}
