package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/corvidrun/amqprpc/config"
)

func TestPrivateQueueNameShape(t *testing.T) {
	name := privateQueueName()
	assert.True(t, strings.HasPrefix(name, "mq."))
	assert.Len(t, strings.TrimPrefix(name, "mq."), 36) // uuid v4 canonical form
}

func TestPrivateQueueNameIsUnique(t *testing.T) {
	assert.NotEqual(t, privateQueueName(), privateQueueName())
}

func TestPrivateQueueOptsDefaultsToExclusiveAutoDelete(t *testing.T) {
	tp := newTestTransport(t)

	opts := tp.privateQueueOpts()

	assert.False(t, opts.Durable)
	assert.True(t, opts.AutoDelete)
	assert.True(t, opts.Exclusive)
}

func TestPrivateQueueOptsRespectsExplicitOverride(t *testing.T) {
	tp := newTestTransport(t)
	tp.cfg.PrivateQueueOpts = config.QueueOpts{Durable: true, AutoDelete: false, Exclusive: false}

	opts := tp.privateQueueOpts()

	assert.True(t, opts.Durable)
	assert.False(t, opts.AutoDelete)
	assert.False(t, opts.Exclusive)
}

func TestCreatePrivateQueueResetsReadinessGateOnFreshCycle(t *testing.T) {
	tp := newTestTransport(t)
	staleReady := make(chan struct{})
	close(staleReady)
	tp.replyState = replyToReady
	tp.privateReady = staleReady

	// A recreate kicked off after a 404 on the private queue starts at
	// attempt 1 to get its backoff delay, not attempt 0; the readiness
	// gate must still reset for this fresh cycle so a later close(ready)
	// never targets the already-closed channel from the prior cycle.
	tp.createPrivateQueue(context.Background(), 1)

	assert.NotEqual(t, staleReady, tp.privateReady)
}

func TestCreatePrivateQueueRetryWithinCyclePreservesReadinessGate(t *testing.T) {
	tp := newTestTransport(t)
	tp.replyState = replyToPending
	pending := make(chan struct{})
	tp.privateReady = pending

	tp.createPrivateQueue(context.Background(), 1)

	assert.Equal(t, pending, tp.privateReady)
}

func TestWaitForPrivateQueueFailsAtContextDeadlineWhenUnconnected(t *testing.T) {
	tp := newTestTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := tp.waitForPrivateQueue(ctx)

	// The facade is never connected in this test, so every declare
	// attempt fails and waitForPrivateQueue keeps retrying until ctx
	// expires.
	assert.Error(t, err)
}
