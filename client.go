// Package twinbus is the entry point for the twinbus message-bus connector.
//
// A Client owns one broker connection, one channel, and one exchange, and
// provides JSON publish/subscribe primitives over RabbitMQ. For a connection
// whose lifetime matches a scope, use WithClient, which guarantees cleanup
// of every queue and binding the client created.
package twinbus

import (
	"context"
	"log/slog"

	"github.com/twinbus/twinbus-go/messaging"
)

// busConnector is the connector surface the Client delegates to. It is
// satisfied by *messaging.Connector and stubbed in tests.
type busConnector interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, routingKey string, message any, options ...messaging.PublishOption) error
	Poll(queue string) (any, bool, error)
	DeclareQueue(routingKey string) (string, error)
	Subscribe(routingKey string, callback messaging.Callback) (string, error)
	Consume(ctx context.Context) error
	Close() error
}

var _ busConnector = (*messaging.Connector)(nil)

// Client wraps a messaging.Connector with a stable top-level API.
type Client struct {
	connector busConnector
	logger    *slog.Logger
}

func newClient(connector busConnector, logger *slog.Logger) *Client {
	return &Client{connector: connector, logger: logger}
}

type clientConfig struct {
	logger  *slog.Logger
	metrics messaging.MetricsCollector
}

// ClientOption configures the Client.
type ClientOption func(*clientConfig)

// WithLogger sets the logger used by the client and its connector.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(metrics messaging.MetricsCollector) ClientOption {
	return func(c *clientConfig) {
		c.metrics = metrics
	}
}

// NewClient creates an unconnected client for the given broker config.
func NewClient(cfg messaging.Config, options ...ClientOption) (*Client, error) {
	cc := &clientConfig{
		logger:  slog.Default(),
		metrics: messaging.NopMetricsCollector{},
	}
	for _, opt := range options {
		opt(cc)
	}

	connector, err := messaging.NewConnector(cfg,
		messaging.WithLogger(cc.logger),
		messaging.WithMetricsCollector(cc.metrics),
	)
	if err != nil {
		return nil, err
	}

	return newClient(connector, cc.logger), nil
}

// Connect opens the connection and declares the exchange.
func (c *Client) Connect(ctx context.Context) error {
	return c.connector.Connect(ctx)
}

// Send publishes message as JSON under routingKey. Fire-and-forget.
func (c *Client) Send(ctx context.Context, routingKey string, message any, options ...messaging.PublishOption) error {
	return c.connector.Send(ctx, routingKey, message, options...)
}

// Poll fetches at most one pending message from queue without blocking.
func (c *Client) Poll(queue string) (any, bool, error) {
	return c.connector.Poll(queue)
}

// DeclareQueue creates a fresh exclusive auto-delete queue bound to
// routingKey and returns its broker-generated name.
func (c *Client) DeclareQueue(routingKey string) (string, error) {
	return c.connector.DeclareQueue(routingKey)
}

// Subscribe binds a fresh queue to routingKey and registers callback for it.
func (c *Client) Subscribe(routingKey string, callback messaging.Callback) (string, error) {
	return c.connector.Subscribe(routingKey, callback)
}

// Consume blocks, dispatching deliveries to subscription callbacks until ctx
// is cancelled, Close is called, or the connection dies.
func (c *Client) Consume(ctx context.Context) error {
	return c.connector.Consume(ctx)
}

// Close deletes every queue the client created, then closes the channel and
// the connection. Idempotent.
func (c *Client) Close() error {
	return c.connector.Close()
}

// WithClient opens a connected client, runs fn, and closes the client
// exactly once on the way out, whatever fn does. A cleanup failure is
// returned when fn succeeded, and logged otherwise: nothing can act on it
// past the teardown boundary.
func WithClient(ctx context.Context, cfg messaging.Config, fn func(*Client) error, options ...ClientOption) error {
	client, err := NewClient(cfg, options...)
	if err != nil {
		return err
	}
	return client.runScoped(ctx, fn)
}

// runScoped connects, runs fn, and closes the client exactly once on the
// way out.
func (c *Client) runScoped(ctx context.Context, fn func(*Client) error) (err error) {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := c.Close(); cerr != nil {
			if err == nil {
				err = cerr
			} else {
				c.logger.Error("cleanup failed after error", "error", cerr)
			}
		}
	}()

	return fn(c)
}
