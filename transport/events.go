package transport

import (
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventKind tags the payload carried by an Event.
type EventKind int

const (
	EventReady EventKind = iota
	EventClose
	EventPublish
	EventPre
	EventAfter
	EventPrivateQueueReady
	EventConsumedQueueReconnected
	EventConsumerClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventClose:
		return "close"
	case EventPublish:
		return "publish"
	case EventPre:
		return "pre"
	case EventAfter:
		return "after"
	case EventPrivateQueueReady:
		return "private-queue-ready"
	case EventConsumedQueueReconnected:
		return "consumed-queue-reconnected"
	case EventConsumerClose:
		return "consumer-close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a tagged union of everything the transport broadcasts to
// observers. Payload holds kind-specific data; see the EventXxx
// constants for what each kind carries:
//
//	EventClose:                     "err" (error, may be absent)
//	EventPublish:                   "routingKey" (string), "message" (any)
//	EventPre, EventAfter:           "delivery" (amqp.Delivery)
//	EventPrivateQueueReady:         "queue" (string)
//	EventConsumedQueueReconnected:  "bindingId" (string), "queue" (string)
//	EventConsumerClose:             "queue" (string)
//	EventError:                     "err" (error)
type Event struct {
	Kind    EventKind
	Payload map[string]any
}

// eventBus fans a single stream of Events out to any number of
// subscribers, plus the typed OnReady/OnError convenience helpers,
// grounded on the teacher's ConnectionStateListener observer pattern,
// generalized from three fixed callbacks to an open list of channel
// subscribers and typed hooks.
type eventBus struct {
	mu      sync.Mutex
	subs    []chan Event
	onReady []func()
	onError []func(error)
}

func newEventBus() *eventBus {
	return &eventBus{}
}

// Subscribe returns a channel that receives every future event. The
// channel is buffered; slow subscribers drop events rather than
// blocking the transport.
func (b *eventBus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 64)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *eventBus) OnReady(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReady = append(b.onReady, fn)
}

func (b *eventBus) OnError(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = append(b.onError, fn)
}

func (b *eventBus) emit(evt Event) {
	b.mu.Lock()
	subs := append([]chan Event(nil), b.subs...)
	var onReady []func()
	var onError []func(error)
	if evt.Kind == EventReady {
		onReady = append(onReady, b.onReady...)
	}
	if evt.Kind == EventError {
		onError = append(onError, b.onError...)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
	for _, fn := range onReady {
		go fn()
	}
	if err, ok := evt.Payload["err"].(error); ok {
		for _, fn := range onError {
			go fn(err)
		}
	}
}

// deliveryPayload builds the "delivery" entry shared by Pre/After events.
func deliveryPayload(d amqp.Delivery) map[string]any {
	return map[string]any{"delivery": d}
}
