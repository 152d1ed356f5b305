package transport

import (
	"context"
	"fmt"
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/corvidrun/amqprpc/cache"
	"github.com/corvidrun/amqprpc/contracts"
	"github.com/corvidrun/amqprpc/replystore"
	"github.com/corvidrun/amqprpc/serialization"
)

// Response is what PublishAndWait/SendAndWait resolve with when the
// caller opts out of WithSimpleResponse: the decoded data plus the
// headers the reply carried.
type Response struct {
	Data    any
	Headers amqp.Table
}

type rpcResult struct {
	body    []byte
	headers amqp.Table
	err     error
}

// Publish sends msg to routingKey on the transport's exchange without
// waiting for a reply.
func (t *Transport) Publish(ctx context.Context, routingKey string, msg any, opts ...PublishOption) error {
	p := newPublishParams(t.cfg.Exchange, t.cfg.Timeout, opts)
	body, contentType, contentEncoding, err := t.encodeBody(msg, p)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		AppId:           t.appID,
		Body:            body,
	}
	if p.correlationID != "" {
		pub.CorrelationId = p.correlationID
	}
	if p.headers != nil {
		pub.Headers = amqp.Table(p.headers)
	}

	t.events.emit(Event{Kind: EventPublish, Payload: map[string]any{"routingKey": routingKey, "message": msg}})
	return t.facade.Publish(ctx, p.exchange, routingKey, pub, p.mandatory, p.immediate, p.confirm)
}

// PublishAndWait sends msg to routingKey on the transport's exchange
// and blocks until a reply arrives, the call times out, or ctx is
// cancelled.
func (t *Transport) PublishAndWait(ctx context.Context, routingKey string, msg any, opts ...PublishOption) (any, error) {
	return t.rpc(ctx, t.cfg.Exchange, routingKey, msg, opts)
}

// SendAndWait sends msg directly to queue (via the default exchange
// with no routing indirection) and blocks for a reply, exactly like
// PublishAndWait but bypassing exchange routing.
func (t *Transport) SendAndWait(ctx context.Context, queue string, msg any, opts ...PublishOption) (any, error) {
	return t.rpc(ctx, "", queue, msg, opts)
}

func (t *Transport) rpc(ctx context.Context, exchange, routingKey string, msg any, opts []PublishOption) (any, error) {
	p := newPublishParams(exchange, t.cfg.Timeout, opts)

	body, contentType, contentEncoding, err := t.encodeBody(msg, p)
	if err != nil {
		return nil, err
	}

	if p.useCache {
		fp := cache.Fingerprint(routingKey, body)
		if cached, ok := t.cache.Get(fp); ok {
			return t.buildResult(rpcResult{body: cached}, p)
		}
	}

	replyQueue := p.replyTo
	if replyQueue == "" {
		replyQueue, err = t.waitForPrivateQueue(ctx)
		if err != nil {
			return nil, err
		}
	}

	correlationID := p.correlationID
	if correlationID == "" {
		correlationID = newCorrelationID()
	}

	ctx, span := t.tracer.StartRPCSpan(ctx, routingKey)
	defer span.End()

	doneCh := make(chan rpcResult, 1)
	timer := time.AfterFunc(p.timeout, func() {
		t.replies.Reject(correlationID, &contracts.TimeoutError{CorrelationID: correlationID, RoutingKey: routingKey, Timeout: p.timeout})
	})

	pending := &replystore.Pending{
		CorrelationID: correlationID,
		RoutingKey:    routingKey,
		Timer:         timer,
		Resolve: func(replyBody []byte, headers amqp.Table, err error) {
			select {
			case doneCh <- rpcResult{body: replyBody, headers: headers, err: err}:
			default:
			}
		},
	}
	t.replies.Push(pending)

	headers := amqp.Table{}
	for k, v := range p.headers {
		headers[k] = v
	}
	headers["timeout"] = p.timeout.Milliseconds()
	traceHeaders := make(map[string]string)
	t.tracer.Inject(ctx, traceHeaders)
	for k, v := range traceHeaders {
		headers[k] = v
	}

	pub := amqp.Publishing{
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		CorrelationId:   correlationID,
		ReplyTo:         replyQueue,
		AppId:           t.appID,
		Expiration:      fmt.Sprintf("%d", int64(math.Ceil(float64(p.timeout)*0.9/float64(time.Millisecond)))),
		Headers:         headers,
		Body:            body,
	}

	t.events.emit(Event{Kind: EventPublish, Payload: map[string]any{"routingKey": routingKey, "message": msg}})
	if err := t.facade.Publish(ctx, p.exchange, routingKey, pub, p.mandatory, p.immediate, p.confirm); err != nil {
		if popped, ok := t.replies.Pop(correlationID); ok {
			popped.Timer.Stop()
		}
		return nil, err
	}

	select {
	case res := <-doneCh:
		if res.err != nil {
			return nil, res.err
		}
		if p.useCache {
			fp := cache.Fingerprint(routingKey, body)
			t.cache.Set(fp, res.body, p.cacheTTL)
		}
		return t.buildResult(res, p)
	case <-ctx.Done():
		t.replies.Reject(correlationID, ctx.Err())
		return nil, ctx.Err()
	}
}

func (t *Transport) buildResult(res rpcResult, p *publishParams) (any, error) {
	data, err := t.decodeReplyBody(res.body)
	if err != nil {
		return nil, err
	}
	if p.simpleResponse {
		return data, nil
	}
	return Response{Data: data, Headers: res.headers}, nil
}

// decodeReplyBody decodes a reply body whose original content-type is
// not tracked alongside it: it is always JSON-or-plain-text on the wire
// (replies never carry gzip, see Reply), so trying JSON first and
// falling back to plain text recovers the original shape without extra
// bookkeeping in replystore.Pending.
func (t *Transport) decodeReplyBody(body []byte) (any, error) {
	if v, err := t.codec.Decode(body, serialization.ContentTypeJSON, serialization.ContentEncodingPlain); err == nil {
		return v, nil
	}
	return t.codec.Decode(body, serialization.ContentTypeText, serialization.ContentEncodingPlain)
}
