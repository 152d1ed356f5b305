package rabbitmq

import (
	"context"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnState is the lifecycle state of a Facade's underlying connection.
type ConnState int

const (
	StateClosed ConnState = iota
	StateOpening
	StateOpen
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// consumerCloseErr falls back to ErrConsumerCancelled when the
// consumer's delivery loop stopped without a channel exception (an
// explicit Unsubscribe or a broker cancel that carried no reply code),
// so ConsumerErrorEvent.Err is never nil.
func consumerCloseErr(err error) error {
	if err != nil {
		return err
	}
	return ErrConsumerCancelled
}

// ConsumerErrorEvent is delivered whenever a subscription's delivery
// loop stops, for any reason: broker-initiated cancel (queue deleted,
// node failover), the underlying channel closing unexpectedly, or a
// clean Unsubscribe. Err carries the *amqp.Error that closed the
// channel when there was one, so callers can classify by reply code; a
// cancel and an Unsubscribe both arrive as ErrConsumerCancelled and
// cannot be told apart here.
type ConsumerErrorEvent struct {
	Queue string
	Err   error
}

// Facade is the single entry point transport code depends on. It wraps
// connection lifecycle, channel pooling, topology declaration and
// publish/consume primitives behind the small surface the transport
// core actually needs, so nothing above this package touches
// amqp091-go types directly.
type Facade struct {
	url    string
	logger *slog.Logger

	mu    sync.RWMutex
	state ConnState

	conn      *ConnectionManager
	pool      *ChannelPool
	topology  *TopologyManager
	publisher *Publisher
	consumer  *Consumer

	readyCh chan struct{}
	closeCh chan error
	cerrs   chan ConsumerErrorEvent
}

// FacadeOption configures a Facade.
type FacadeOption func(*Facade)

// WithFacadeLogger sets the logger used by the façade's collaborators.
func WithFacadeLogger(logger *slog.Logger) FacadeOption {
	return func(f *Facade) { f.logger = logger }
}

// NewFacade constructs a Facade for the given AMQP URL. Connect must be
// called before the façade is usable.
func NewFacade(url string, opts ...FacadeOption) *Facade {
	f := &Facade{
		url:     url,
		logger:  slog.Default(),
		state:   StateClosed,
		readyCh: make(chan struct{}, 1),
		closeCh: make(chan error, 1),
		cerrs:   make(chan ConsumerErrorEvent, 16),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Connect dials the broker, builds the channel pool, topology manager,
// publisher and consumer, and starts observing connection state changes.
func (f *Facade) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.state = StateOpening
	f.mu.Unlock()

	cm := NewConnectionManager(f.url, WithConnectionLogger(f.logger))
	cm.AddStateListener(f)

	if err := cm.Connect(ctx); err != nil {
		f.mu.Lock()
		f.state = StateClosed
		f.mu.Unlock()
		return err
	}

	pool, err := NewChannelPool(cm)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = cm
	f.pool = pool
	f.topology = NewTopologyManager(pool)
	f.publisher = NewPublisher(pool)
	f.consumer = NewConsumer(pool,
		WithConsumerLogger(f.logger),
		WithOnClose(func(queue string, err error) {
			select {
			case f.cerrs <- ConsumerErrorEvent{Queue: queue, Err: consumerCloseErr(err)}:
			default:
			}
		}),
	)
	f.state = StateOpen
	f.mu.Unlock()

	select {
	case f.readyCh <- struct{}{}:
	default:
	}

	return nil
}

// State reports the façade's current lifecycle state.
func (f *Facade) State() ConnState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Ready returns a channel that receives a value each time the
// connection transitions to StateOpen (including after a reconnect).
func (f *Facade) Ready() <-chan struct{} { return f.readyCh }

// ClosedNotify returns a channel that receives the error Close returned
// (nil on a clean close) once Close has torn the façade down. A lost
// connection does not send on it: the façade's connection manager
// retries reconnection without limit.
func (f *Facade) ClosedNotify() <-chan error { return f.closeCh }

// ConsumerErrors returns a channel of consumer-side delivery errors.
func (f *Facade) ConsumerErrors() <-chan ConsumerErrorEvent { return f.cerrs }

// DeclareQueue declares queue with the given options.
func (f *Facade) DeclareQueue(ctx context.Context, name string, durable, autoDelete, exclusive bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.RLock()
	tm := f.topology
	f.mu.RUnlock()
	if tm == nil {
		return amqp.Queue{}, ErrNotConnected
	}
	return tm.DeclareQueue(ctx, QueueDeclaration{
		Name:       name,
		Durable:    durable,
		AutoDelete: autoDelete,
		Exclusive:  exclusive,
		Arguments:  args,
	})
}

// DeclareQueuePassive fetches name's existing definition without
// asserting new arguments, used to adopt a queue that already exists
// with arguments this façade did not declare.
func (f *Facade) DeclareQueuePassive(ctx context.Context, name string) (amqp.Queue, error) {
	f.mu.RLock()
	tm := f.topology
	f.mu.RUnlock()
	if tm == nil {
		return amqp.Queue{}, ErrNotConnected
	}
	return tm.DeclareQueuePassive(ctx, name)
}

// DeclareExchange declares exchange with the given options.
func (f *Facade) DeclareExchange(ctx context.Context, name, kind string, durable, autoDelete bool, args amqp.Table) error {
	f.mu.RLock()
	tm := f.topology
	f.mu.RUnlock()
	if tm == nil {
		return ErrNotConnected
	}
	return tm.DeclareExchange(ctx, ExchangeDeclaration{
		Name:       name,
		Type:       kind,
		Durable:    durable,
		AutoDelete: autoDelete,
		Arguments:  args,
	})
}

// BindQueue binds queue to exchange with routingKey.
func (f *Facade) BindQueue(ctx context.Context, queue, exchange, routingKey string, args amqp.Table) error {
	f.mu.RLock()
	tm := f.topology
	f.mu.RUnlock()
	if tm == nil {
		return ErrNotConnected
	}
	return tm.BindQueue(ctx, Binding{Queue: queue, Exchange: exchange, RoutingKey: routingKey, Arguments: args})
}

// UnbindQueue removes a binding previously created with BindQueue.
func (f *Facade) UnbindQueue(ctx context.Context, queue, exchange, routingKey string, args amqp.Table) error {
	f.mu.RLock()
	tm := f.topology
	f.mu.RUnlock()
	if tm == nil {
		return ErrNotConnected
	}
	return tm.unbindQueue(ctx, Binding{Queue: queue, Exchange: exchange, RoutingKey: routingKey, Arguments: args})
}

// PoolStats returns the channel pool's current occupancy. The second
// return value is false if the façade has never connected.
func (f *Facade) PoolStats() (PoolStats, bool) {
	f.mu.RLock()
	pool := f.pool
	f.mu.RUnlock()
	if pool == nil {
		return PoolStats{}, false
	}
	return pool.Stats(), true
}

// InspectQueue returns broker-reported queue statistics.
func (f *Facade) InspectQueue(ctx context.Context, name string) (amqp.Queue, error) {
	f.mu.RLock()
	tm := f.topology
	f.mu.RUnlock()
	if tm == nil {
		return amqp.Queue{}, ErrNotConnected
	}
	return tm.GetQueueInfo(ctx, name)
}

// Consume starts a handler consuming from queue with the given prefetch.
func (f *Facade) Consume(ctx context.Context, queue string, prefetch int, handler MessageHandler) error {
	f.mu.RLock()
	pool := f.pool
	f.mu.RUnlock()
	if pool == nil {
		return ErrNotConnected
	}
	consumer := NewConsumer(pool,
		WithPrefetchCount(prefetch),
		WithConsumerLogger(f.logger),
		WithOnClose(func(q string, err error) {
			select {
			case f.cerrs <- ConsumerErrorEvent{Queue: q, Err: consumerCloseErr(err)}:
			default:
			}
		}),
	)
	return consumer.Subscribe(ctx, queue, handler)
}

// Publish publishes msg to exchange/routingKey.
func (f *Facade) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing, mandatory, immediate, confirm bool) error {
	f.mu.RLock()
	pub := f.publisher
	f.mu.RUnlock()
	if pub == nil {
		return ErrNotConnected
	}
	return pub.Publish(ctx, exchange, routingKey, msg, mandatory, immediate, confirm)
}

// Close tears down the publisher, consumer, channel pool and connection.
func (f *Facade) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateClosed {
		return nil
	}

	var firstErr error
	if f.consumer != nil {
		if err := f.consumer.UnsubscribeAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if f.pool != nil {
		if err := f.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if f.conn != nil {
		if err := f.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	f.state = StateClosed
	select {
	case f.closeCh <- firstErr:
	default:
	}

	return firstErr
}

// OnConnected implements ConnectionStateListener.
func (f *Facade) OnConnected() {
	f.mu.Lock()
	f.state = StateOpen
	f.mu.Unlock()
	select {
	case f.readyCh <- struct{}{}:
	default:
	}
}

// OnDisconnected implements ConnectionStateListener.
func (f *Facade) OnDisconnected(err error) {
	f.mu.Lock()
	if f.state != StateClosed {
		f.state = StateReconnecting
	}
	f.mu.Unlock()
	f.logger.Warn("facade connection lost", "error", err)
}

// OnReconnecting implements ConnectionStateListener.
func (f *Facade) OnReconnecting(attempt int) {
	f.mu.Lock()
	f.state = StateReconnecting
	f.mu.Unlock()
	f.logger.Info("facade reconnecting", "attempt", attempt)
}
