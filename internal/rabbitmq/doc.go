// Package rabbitmq is the thin façade over github.com/rabbitmq/amqp091-go
// that the transport core builds on: connection lifecycle with automatic
// reconnection, a pooled-channel abstraction, queue/exchange/binding
// declaration, and publish/consume primitives with AMQP reply-code
// classification.
//
// Facade is the single entry point transport code depends on; the
// remaining types (ConnectionManager, ChannelPool, Consumer, Publisher,
// TopologyManager) are its internal collaborators and are not expected
// to be constructed directly outside this package.
package rabbitmq
