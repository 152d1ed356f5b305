package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPublishParamsDefaults(t *testing.T) {
	p := newPublishParams("default-exchange", 5*time.Second, nil)

	assert.Equal(t, "default-exchange", p.exchange)
	assert.Equal(t, 5*time.Second, p.timeout)
	assert.True(t, p.simpleResponse)
	assert.False(t, p.useCache)
	assert.False(t, p.confirm)
}

func TestPublishOptions(t *testing.T) {
	p := newPublishParams("default-exchange", 5*time.Second, []PublishOption{
		WithExchange("override-exchange"),
		WithConfirm(true),
		WithMandatory(true),
		WithImmediate(true),
		WithTimeout(2 * time.Second),
		WithCache(10 * time.Second),
		WithGzip(true),
		WithSkipSerialize(true),
		WithCorrelationID("corr-1"),
		WithReplyTo("reply.queue"),
		WithSimpleResponse(false),
		WithHeaders(map[string]any{"x-trace": "abc"}),
	})

	assert.Equal(t, "override-exchange", p.exchange)
	assert.True(t, p.confirm)
	assert.True(t, p.mandatory)
	assert.True(t, p.immediate)
	assert.Equal(t, 2*time.Second, p.timeout)
	assert.True(t, p.useCache)
	assert.Equal(t, 10*time.Second, p.cacheTTL)
	assert.True(t, p.gzip)
	assert.True(t, p.skipSerialize)
	assert.Equal(t, "corr-1", p.correlationID)
	assert.Equal(t, "reply.queue", p.replyTo)
	assert.False(t, p.simpleResponse)
	assert.Equal(t, "abc", p.headers["x-trace"])
}

func TestWithHeadersMerges(t *testing.T) {
	p := newPublishParams("", 0, []PublishOption{
		WithHeaders(map[string]any{"a": 1}),
		WithHeaders(map[string]any{"b": 2}),
	})

	assert.Equal(t, 1, p.headers["a"])
	assert.Equal(t, 2, p.headers["b"])
}
