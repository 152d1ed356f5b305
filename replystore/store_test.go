package replystore

import (
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPending(t *testing.T, id string) (*Pending, chan struct{}) {
	t.Helper()
	done := make(chan struct{})
	p := &Pending{
		CorrelationID: id,
		RoutingKey:    "rk",
		Resolve: func(body []byte, headers amqp.Table, err error) {
			close(done)
		},
		Timer: time.NewTimer(time.Hour),
	}
	return p, done
}

func TestPushPop(t *testing.T) {
	s := New()
	p, _ := newPending(t, "c1")
	s.Push(p)
	require.Equal(t, 1, s.Len())

	got, ok := s.Pop("c1")
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, 0, s.Len())

	_, ok = s.Pop("c1")
	assert.False(t, ok)
}

func TestPushDuplicatePanics(t *testing.T) {
	s := New()
	p1, _ := newPending(t, "dup")
	s.Push(p1)

	p2, _ := newPending(t, "dup")
	assert.Panics(t, func() { s.Push(p2) })
}

func TestRejectResolvesAndRemoves(t *testing.T) {
	s := New()
	p, done := newPending(t, "c2")
	s.Push(p)

	s.Reject("c2", errors.New("boom"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("resolve was not called")
	}
	assert.Equal(t, 0, s.Len())

	// second reject is a no-op, not a panic
	s.Reject("c2", errors.New("boom again"))
}

func TestRejectAll(t *testing.T) {
	s := New()
	_, done1 := func() (*Pending, chan struct{}) {
		p, d := newPending(t, "a")
		s.Push(p)
		return p, d
	}()
	_, done2 := func() (*Pending, chan struct{}) {
		p, d := newPending(t, "b")
		s.Push(p)
		return p, d
	}()

	s.RejectAll(errors.New("closing"))

	for _, d := range []chan struct{}{done1, done2} {
		select {
		case <-d:
		case <-time.After(time.Second):
			t.Fatal("resolve was not called")
		}
	}
	assert.Equal(t, 0, s.Len())
}
