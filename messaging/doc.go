// Package messaging implements the twinbus broker connector: a single
// connection and channel to RabbitMQ, one topic-style exchange declared on
// connect, and ephemeral exclusive queues bound to it by routing key.
//
// The connector exposes:
//   - Send: fire-and-forget JSON publish to the exchange
//   - Poll: non-blocking single-message fetch with auto-acknowledge
//   - Subscribe: a fresh bound queue plus a decode-and-dispatch callback
//   - Consume: the blocking dispatch loop
//
// One connector owns all broker-side resources it creates. Deliveries are
// auto-acknowledged, so redelivery on callback failure is impossible by
// construction. The channel is not reentrant-safe: callbacks must not call
// Send, Poll, or Subscribe on the connector that is dispatching to them.
package messaging
