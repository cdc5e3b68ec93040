package rabbitmq

import (
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrClosed is returned when an operation is attempted after Close.
	ErrClosed = errors.New("rabbitmq: connector is closed")

	// ErrNotConnected is returned when an operation requires an open
	// connection and Connect has not been called.
	ErrNotConnected = errors.New("rabbitmq: not connected")

	// ErrConnectionTimeout is returned when dialing the broker times out.
	ErrConnectionTimeout = errors.New("rabbitmq: connection timeout")
)

// ConnectionError represents a transport-level failure: dialing, TLS
// negotiation, channel setup, or an unexpected connection drop.
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (sanitized)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rabbitmq connection error: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TopologyError represents a broker protocol failure while declaring or
// tearing down exchanges, queues, or bindings.
type TopologyError struct {
	Component string    // Component type (exchange, queue, binding)
	Name      string    // Component name
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq topology error: failed to %s %s '%s': %v",
		e.Op, e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// ConsumerError represents a failure while fetching or consuming deliveries.
type ConsumerError struct {
	Queue     string    // Queue name
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("rabbitmq consumer error: %s failed on queue %s: %v",
		e.Op, e.Queue, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}

// PublishError represents a failed publish operation.
type PublishError struct {
	Exchange   string    // Target exchange
	RoutingKey string    // Routing key used
	Err        error     // Underlying error
	Timestamp  time.Time // When the error occurred
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: failed to publish to %s/%s: %v",
		e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a broker NOT_FOUND reply, i.e. the
// queue or binding no longer exists server-side.
func IsNotFound(err error) bool {
	var aerr *amqp.Error
	return errors.As(err, &aerr) && aerr.Code == amqp.NotFound
}

// IsClosed reports whether err indicates the channel or connection was
// already closed by the time the operation ran.
func IsClosed(err error) bool {
	return errors.Is(err, amqp.ErrClosed)
}
