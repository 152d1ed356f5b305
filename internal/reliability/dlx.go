package reliability

import (
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/corvidrun/amqprpc/contracts"
)

// DeathTrail is the decoded head of an amqp "x-death" header array: the
// most recent reason a message was dead-lettered, and how many times.
type DeathTrail struct {
	Queue  string
	Reason string
	Count  int
}

// ExtractDeathTrail reads the first (most recent) entry of the x-death
// header, if present. ok is false when the delivery carries no x-death
// header at all.
func ExtractDeathTrail(headers amqp.Table) (DeathTrail, bool) {
	if headers == nil {
		return DeathTrail{}, false
	}

	xDeath, ok := headers["x-death"].([]any)
	if !ok || len(xDeath) == 0 {
		return DeathTrail{}, false
	}

	death, ok := xDeath[0].(amqp.Table)
	if !ok {
		return DeathTrail{}, false
	}

	var trail DeathTrail
	if q, ok := death["queue"].(string); ok {
		trail.Queue = q
	}
	if r, ok := death["reason"].(string); ok {
		trail.Reason = r
	}
	switch c := death["count"].(type) {
	case int64:
		trail.Count = int(c)
	case int32:
		trail.Count = int(c)
	case int:
		trail.Count = c
	}

	return trail, true
}

// ToDLXError converts a decoded death trail into the typed error the
// transport core hands back to the originating caller when a request
// was demoted instead of answered.
func (t DeathTrail) ToDLXError() *contracts.DLXError {
	return &contracts.DLXError{Queue: t.Queue, Reason: t.Reason, DeathCount: t.Count}
}
