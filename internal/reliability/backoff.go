package reliability

import (
	"math"
	"math/rand"
	"time"
)

// Policy is a jittered-exponential backoff: attempt 1 waits Min, and
// attempt n >= 2 waits min(round((1+U(0,1)) * Min * Factor^(n-1)), Max).
type Policy struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
}

var namedPolicies = map[string]Policy{
	"private":  {Min: 250 * time.Millisecond, Max: 1 * time.Second, Factor: 0.2},
	"consumed": {Min: 500 * time.Millisecond, Max: 5 * time.Second, Factor: 0.2},
}

// NamedPolicy resolves "private" or "consumed" to its default
// parameters. ok is false for any other name.
func NamedPolicy(name string) (Policy, bool) {
	p, ok := namedPolicies[name]
	return p, ok
}

// Delay computes the wait before attempt n:
//
//	n == 0 -> 0 (immediate)
//	n == 1 -> Min
//	n >= 2 -> min(round((1+rand01) * Min * Factor^(n-1)), Max)
func (p Policy) Delay(attempt int) time.Duration {
	switch {
	case attempt <= 0:
		return 0
	case attempt == 1:
		return p.Min
	default:
		scale := math.Pow(p.Factor, float64(attempt-1))
		jittered := (1 + rand.Float64()) * float64(p.Min) * scale
		delay := time.Duration(math.Round(jittered))
		if delay > p.Max {
			delay = p.Max
		}
		return delay
	}
}
