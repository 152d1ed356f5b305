package contracts

import (
	"errors"
	"fmt"
)

// ErrorRecord is the JSON-safe shape an error takes when it crosses the
// wire as a message body. Fields mirror what a revived error object
// needs to be useful to the receiving side: a type tag for revival, a
// human message, an optional broker/application code, and a stack for
// diagnostics.
type ErrorRecord struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Stack   string         `json:"stack,omitempty"`
	Code    string         `json:"code,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// replyHeadersError decorates a revived typed error with the AMQP
// headers its reply carried, the way a hidden non-enumerable property
// would on the original error object: Error/Unwrap/Kind all pass
// through untouched, so errors.As and KindOf still see the wrapped
// type, while ReplyHeadersOf can still recover the headers.
type replyHeadersError struct {
	error
	headers map[string]string
}

func (e *replyHeadersError) Unwrap() error   { return e.error }
func (e *replyHeadersError) Kind() ErrorKind { return KindOf(e.error) }

// WithReplyHeaders attaches the AMQP headers a reply carried to err,
// retrievable later with ReplyHeadersOf. A nil err or empty headers is
// returned unchanged.
func WithReplyHeaders(err error, headers map[string]string) error {
	if err == nil || len(headers) == 0 {
		return err
	}
	return &replyHeadersError{error: err, headers: headers}
}

// ReplyHeadersOf returns the AMQP headers WithReplyHeaders attached to
// err, if any.
func ReplyHeadersOf(err error) (map[string]string, bool) {
	var rhe *replyHeadersError
	if errors.As(err, &rhe) {
		return rhe.headers, true
	}
	return nil, false
}

// ToErrorRecord projects any error into its wire shape. Known kinds get
// their identifying fields pulled into Fields; everything else is
// recorded as a GenericError with only a message.
func ToErrorRecord(err error) *ErrorRecord {
	if err == nil {
		return nil
	}

	rec := &ErrorRecord{
		Type:    KindOf(err).String(),
		Message: err.Error(),
	}

	switch e := err.(type) {
	case *ValidationError:
		rec.Fields = map[string]any{"field": e.Field}
	case *InvalidOperationError:
		rec.Fields = map[string]any{"op": e.Op}
	case *ConnectionError:
		rec.Fields = map[string]any{"op": e.Op}
	case *NotPermittedError:
		rec.Fields = map[string]any{"op": e.Op}
	case *TimeoutError:
		rec.Code = "TIMEOUT"
		rec.Fields = map[string]any{
			"correlationId": e.CorrelationID,
			"routingKey":    e.RoutingKey,
			"timeoutMs":     e.Timeout.Milliseconds(),
		}
	case *DLXError:
		rec.Code = "DLX"
		rec.Fields = map[string]any{
			"queue":      e.Queue,
			"reason":     e.Reason,
			"deathCount": e.DeathCount,
		}
	case *ParseError:
		rec.Fields = map[string]any{"contentType": e.ContentType}
	case *ArgumentError:
		rec.Fields = map[string]any{"name": e.Name}
	default:
		rec.Type = "GenericError"
	}

	return rec
}

// FromErrorRecord revives a wire-shaped error record into the closest
// matching typed error, then attaches headers (the AMQP headers the
// reply carried) as a hidden reply-headers property retrievable with
// ReplyHeadersOf. Unknown Type values fall back to GenericError so
// revival never fails; a known Type whose record lacks some of its
// fields is still revived as that kind, with those fields left empty.
func FromErrorRecord(rec *ErrorRecord, headers map[string]string) error {
	if rec == nil {
		return nil
	}

	var err error
	switch rec.Type {
	case KindValidation.String():
		err = &ValidationError{Field: fieldString(rec.Fields, "field"), Message: rec.Message}
	case KindInvalidOperation.String():
		err = &InvalidOperationError{Op: fieldString(rec.Fields, "op"), Message: rec.Message}
	case KindConnection.String():
		err = &ConnectionError{Op: fieldString(rec.Fields, "op"), Err: fmt.Errorf("%s", rec.Message)}
	case KindNotPermitted.String():
		err = &NotPermittedError{Op: fieldString(rec.Fields, "op"), Message: rec.Message}
	case KindTimeout.String():
		err = &TimeoutError{
			CorrelationID: fieldString(rec.Fields, "correlationId"),
			RoutingKey:    fieldString(rec.Fields, "routingKey"),
		}
	case KindDLX.String():
		err = &DLXError{
			Queue:  fieldString(rec.Fields, "queue"),
			Reason: fieldString(rec.Fields, "reason"),
		}
	case KindParse.String():
		err = &ParseError{ContentType: fieldString(rec.Fields, "contentType"), Err: fmt.Errorf("%s", rec.Message)}
	case KindArgument.String():
		err = &ArgumentError{Name: fieldString(rec.Fields, "name"), Message: rec.Message}
	default:
		err = &GenericError{Message: rec.Message}
	}

	return WithReplyHeaders(err, headers)
}

func fieldString(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}
