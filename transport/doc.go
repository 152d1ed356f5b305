// Package transport implements an AMQP 0-9-1 RPC and worker-queue
// layer on top of the internal/rabbitmq façade: a private per-instance
// reply queue for synchronous calls, durable routed consumers for
// asynchronous work, dead-letter-aware error propagation, response
// caching, and OpenTelemetry tracing across the wire.
package transport
