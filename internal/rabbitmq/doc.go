// Package rabbitmq provides the transport plumbing for the twinbus
// connector.
//
// This package includes:
//   - Dial: opens the broker connection, optionally over TLS
//   - Channel/Conn: narrow interfaces over amqp091 for testability
//   - NewTLSConfig: builds a TLS context from protocol and cipher names
//   - The error taxonomy shared by the messaging layer
//
// Higher-level concerns (topology, publish/subscribe, queue tracking) live
// in the messaging package; this package only knows how to reach the broker
// and how to classify its failures.
package rabbitmq
