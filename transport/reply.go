package transport

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/corvidrun/amqprpc/contracts"
)

// Reply publishes resp back to msg's replyTo/correlationId, the
// convention every RPC handler uses to answer a call it received
// through a consumed queue. It fails fast with a ValidationError if the
// inbound message carried no replyTo or correlationId, since there is
// nowhere to send the answer.
func (t *Transport) Reply(ctx context.Context, msg InboundMessage, resp any, opts ...PublishOption) error {
	if msg.ReplyTo == "" {
		return &contracts.ValidationError{Field: "replyTo", Message: "inbound message carries no reply-to, cannot reply"}
	}
	if msg.CorrelationID == "" {
		return &contracts.ValidationError{Field: "correlationId", Message: "inbound message carries no correlation id, cannot reply"}
	}

	p := newPublishParams("", t.cfg.Timeout, opts)
	// Replies are never gzip-encoded: the caller side decodes a reply
	// body without knowing its content-encoding ahead of time, so this
	// keeps that guess (JSON, falling back to plain text) reliable.
	p.gzip = false

	body, contentType, contentEncoding, err := t.encodeBody(resp, p)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		CorrelationId:   msg.CorrelationID,
		Body:            body,
	}
	if _, isErr := resp.(error); isErr {
		pub.Type = "error"
	}
	if len(p.headers) > 0 {
		pub.Headers = amqp.Table(p.headers)
	}

	// EventAfter for the inbound is emitted once by routeConsumedMessage
	// when the handler returns, whether or not it replied.
	return t.facade.Publish(ctx, "", msg.ReplyTo, pub, p.mandatory, p.immediate, p.confirm)
}

// encodeBody serializes v according to p, skipping serialization
// entirely when the caller passed WithSkipSerialize and a raw []byte.
func (t *Transport) encodeBody(v any, p *publishParams) ([]byte, string, string, error) {
	if p.skipSerialize {
		b, ok := v.([]byte)
		if !ok {
			return nil, "", "", &contracts.ArgumentError{Name: "message", Message: "WithSkipSerialize requires a []byte payload"}
		}
		enc := "plain"
		if p.gzip {
			enc = "gzip"
		}
		return b, "application/octet-stream", enc, nil
	}
	return t.codec.Encode(v, p.gzip)
}
