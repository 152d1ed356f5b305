package transport

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/corvidrun/amqprpc/contracts"
	"github.com/corvidrun/amqprpc/internal/rabbitmq"
	"github.com/corvidrun/amqprpc/internal/reliability"
)

func headersToStrings(h amqp.Table) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// routeConsumedMessage adapts binding.handler into the low-level
// rabbitmq.MessageHandler shape: it starts a consumer span, decodes the
// body, builds an InboundMessage, and dispatches to the handler,
// returning its error so the underlying consumer acks or nacks
// accordingly.
func (t *Transport) routeConsumedMessage(binding *consumerBinding) rabbitmq.MessageHandler {
	return func(ctx context.Context, d amqp.Delivery) error {
		ctx, span := t.tracer.StartConsumerSpan(ctx, d.RoutingKey, headersToStrings(d.Headers))
		defer span.End()

		t.events.emit(Event{Kind: EventPre, Payload: deliveryPayload(d)})

		body, err := t.codec.Decode(d.Body, d.ContentType, d.ContentEncoding)
		if err != nil {
			t.logger.Error("failed to decode consumed message", "queue", binding.queue, "error", err)
			return err
		}

		msg := InboundMessage{
			RoutingKey:    d.RoutingKey,
			Body:          body,
			ContentType:   d.ContentType,
			CorrelationID: d.CorrelationId,
			ReplyTo:       d.ReplyTo,
			Headers:       d.Headers,
			AppID:         d.AppId,
		}

		handlerErr := binding.handler(ctx, msg)
		t.events.emit(Event{Kind: EventAfter, Payload: deliveryPayload(d)})
		return handlerErr
	}
}

// routePrivateMessage handles every delivery on the transport's private
// reply queue. The ownership check (does replyTo actually name our
// queue?) runs first regardless of x-death, so a dead-lettered reply
// misdelivered to us is forwarded exactly like a live one. What
// remains then follows the reply's own shape: a death trail rejects
// the matching call with a DLXError, an error-typed body revives and
// rejects with the typed error (its reply headers attached as a
// hidden property), and anything else resolves the call with its body
// and headers. It always acks (returns nil) because a reply that
// cannot be matched to a pending call has no useful redelivery
// semantics.
func (t *Transport) routePrivateMessage(ctx context.Context, d amqp.Delivery) error {
	t.mu.Lock()
	ourQueue := t.replyToName
	t.mu.Unlock()
	if d.ReplyTo != "" && ourQueue != "" && d.ReplyTo != ourQueue {
		t.forwardNotPermitted(ctx, d)
		return nil
	}

	trail, hasTrail := reliability.ExtractDeathTrail(d.Headers)

	if d.CorrelationId == "" {
		t.logger.Warn("private queue delivery missing correlation id, dropping")
		return nil
	}

	pending, ok := t.replies.Pop(d.CorrelationId)
	if !ok {
		if hasTrail {
			t.logger.Warn("dead-lettered reply has no pending caller, dropping", "queue", trail.Queue, "correlationId", d.CorrelationId)
			return nil
		}
		t.logger.Debug("private queue delivery has no pending caller, dropping", "correlationId", d.CorrelationId)
		return nil
	}

	if hasTrail {
		pending.Resolve(nil, d.Headers, trail.ToDLXError())
		return nil
	}

	if isErrorDelivery(d) {
		rec, err := decodeErrorRecord(t, d)
		if err != nil {
			pending.Resolve(nil, d.Headers, err)
			return nil
		}
		pending.Resolve(nil, d.Headers, contracts.FromErrorRecord(rec, headersToStrings(d.Headers)))
		return nil
	}

	pending.Resolve(d.Body, d.Headers, nil)
	return nil
}

// forwardNotPermitted handles the case where a message arrives on this
// transport's private queue carrying a replyTo for a different queue
// (possible via the headers-exchange x-match=any DLX binding matching
// more broadly than a single queue's own traffic): the real destination
// is told the operation is not permitted here, and the misdelivered
// message is dropped rather than answered as if it belonged to us.
func (t *Transport) forwardNotPermitted(ctx context.Context, d amqp.Delivery) {
	if d.ReplyTo == "" || d.CorrelationId == "" {
		return
	}
	rec := contracts.ToErrorRecord(&contracts.NotPermittedError{Op: "reply", Message: "message misdelivered to a foreign private queue"})
	body, contentType, contentEncoding, err := t.codec.Encode(rec, false)
	if err != nil {
		t.logger.Error("failed to encode not-permitted forward", "error", err)
		return
	}
	pub := amqp.Publishing{
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		CorrelationId:   d.CorrelationId,
		Type:            "error",
		Body:            body,
	}
	if err := t.facade.Publish(ctx, "", d.ReplyTo, pub, false, false, false); err != nil {
		t.logger.Error("failed to forward not-permitted reply", "error", err, "replyTo", d.ReplyTo)
	}
}

func isErrorDelivery(d amqp.Delivery) bool {
	return d.Type == "error"
}

func decodeErrorRecord(t *Transport, d amqp.Delivery) (*contracts.ErrorRecord, error) {
	decoded, err := t.codec.Decode(d.Body, d.ContentType, d.ContentEncoding)
	if err != nil {
		return nil, err
	}
	rec := &contracts.ErrorRecord{}
	fields, ok := decoded.(map[string]any)
	if !ok {
		return nil, &contracts.ParseError{ContentType: d.ContentType, Err: fmt.Errorf("error body did not decode to an object")}
	}
	if v, ok := fields["type"].(string); ok {
		rec.Type = v
	}
	if v, ok := fields["message"].(string); ok {
		rec.Message = v
	}
	if v, ok := fields["stack"].(string); ok {
		rec.Stack = v
	}
	if v, ok := fields["code"].(string); ok {
		rec.Code = v
	}
	rec.Fields = fields
	return rec, nil
}
