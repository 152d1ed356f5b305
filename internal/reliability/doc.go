// Package reliability provides the backoff policy the transport core
// uses when re-establishing connections, private reply queues, and
// routed consumers after an AMQP error.
//
// Two named policies are predefined, matching the two recovery
// situations the transport distinguishes:
//   - "private": re-creating the private reply queue after a 404.
//   - "consumed": rebinding a routed consumer after a channel error.
//
// Both use the same jittered-exponential shape; only their min/max/factor
// differ. A Config.Recovery override replaces either policy's parameters
// without changing the formula.
package reliability
