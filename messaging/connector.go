package messaging

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/twinbus/twinbus-go/internal/rabbitmq"
)

// queueBinding records a queue the connector created and the routing key it
// was bound under, so Close can unbind it again.
type queueBinding struct {
	name       string
	routingKey string
}

// inbound pairs a raw delivery with the queue it arrived on.
type inbound struct {
	queue    string
	delivery amqp.Delivery
}

type dialFunc func(ctx context.Context, cfg rabbitmq.DialConfig) (rabbitmq.Conn, error)

// Connector manages one broker connection, one channel, the exchange
// declared on connect, and every queue it created.
//
// Lifecycle is strictly ordered: NewConnector, Connect, any number of
// DeclareQueue/Send/Poll/Subscribe calls, Close. Close is terminal; all
// operations after it return rabbitmq.ErrClosed.
type Connector struct {
	cfg         Config
	logger      *slog.Logger
	metrics     MetricsCollector
	dial        dialFunc
	dialTimeout time.Duration

	mu          sync.Mutex
	conn        rabbitmq.Conn
	channel     rabbitmq.Channel
	notifyClose chan *amqp.Error
	closed      bool
	queues      []queueBinding
	handlers    map[string]Callback

	inbox chan inbound
	done  chan struct{}
}

// ConnectorOption configures the Connector.
type ConnectorOption func(*Connector)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConnectorOption {
	return func(c *Connector) {
		c.logger = logger
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(metrics MetricsCollector) ConnectorOption {
	return func(c *Connector) {
		c.metrics = metrics
	}
}

// WithDialTimeout bounds how long Connect may spend dialing the broker.
func WithDialTimeout(timeout time.Duration) ConnectorOption {
	return func(c *Connector) {
		c.dialTimeout = timeout
	}
}

// NewConnector creates an unconnected connector for the given config.
func NewConnector(cfg Config, options ...ConnectorOption) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Connector{
		cfg:         cfg,
		logger:      slog.Default(),
		metrics:     NopMetricsCollector{},
		dial:        rabbitmq.Dial,
		dialTimeout: 30 * time.Second,
		handlers:    make(map[string]Callback),
		inbox:       make(chan inbound),
		done:        make(chan struct{}),
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

// Connect dials the broker, opens the channel, and declares the exchange.
// A failure at any step leaves the connector unconnected with no partial
// channel. Connect on an already connected connector is a no-op.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return rabbitmq.ErrClosed
	}
	if c.channel != nil {
		return nil
	}

	var tlsConfig *tls.Config
	if c.cfg.TLS != nil {
		var err error
		tlsConfig, err = rabbitmq.NewTLSConfig(c.cfg.TLS.Protocol, c.cfg.TLS.Ciphers)
		if err != nil {
			return &rabbitmq.ConnectionError{
				Op:        "configure tls",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}

	uri := c.cfg.uri()
	conn, err := c.dial(ctx, rabbitmq.DialConfig{
		URI:     uri,
		TLS:     tlsConfig,
		Timeout: c.dialTimeout,
	})
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return &rabbitmq.ConnectionError{
			Op:        "open channel",
			URL:       rabbitmq.SanitizeURI(uri),
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	err = ch.ExchangeDeclare(
		c.cfg.Exchange,
		string(c.cfg.ExchangeType),
		false, // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return &rabbitmq.TopologyError{
			Component: "exchange",
			Name:      c.cfg.Exchange,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	c.conn = conn
	c.channel = ch
	c.notifyClose = ch.NotifyClose(make(chan *amqp.Error, 1))

	c.logger.Info("connected to RabbitMQ",
		"url", rabbitmq.SanitizeURI(uri),
		"exchange", c.cfg.Exchange,
		"exchangeType", string(c.cfg.ExchangeType))

	return nil
}

// DeclareQueue asks the broker for a server-named, exclusive, auto-delete
// queue bound to the connector's exchange under routingKey, tracks it for
// cleanup, and returns its name. Each call creates a distinct queue, even
// for a routing key already in use.
func (c *Connector) DeclareQueue(routingKey string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpen(); err != nil {
		return "", err
	}
	return c.declareQueue(routingKey)
}

// declareQueue must be called with c.mu held.
func (c *Connector) declareQueue(routingKey string) (string, error) {
	q, err := c.channel.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return "", &rabbitmq.TopologyError{
			Component: "queue",
			Name:      routingKey,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	if err := c.channel.QueueBind(q.Name, routingKey, c.cfg.Exchange, false, nil); err != nil {
		return "", &rabbitmq.TopologyError{
			Component: "binding",
			Name:      q.Name,
			Op:        "bind",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	c.queues = append(c.queues, queueBinding{name: q.Name, routingKey: routingKey})

	c.logger.Info("queue bound", "routingKey", routingKey, "queue", q.Name)

	return q.Name, nil
}

// Close tears the connector down: tracked queues are unbound and deleted,
// then the channel and the connection are closed, in that order. Close is
// idempotent; after the first call the connector is terminally closed.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.channel == nil {
		// Never connected, nothing broker-side to clean up.
		return nil
	}

	var err error
	if c.channel.IsClosed() {
		// The broker tore the channel down already; exclusive auto-delete
		// queues are gone with it, so only the connection needs closing.
		c.queues = nil
	} else {
		err = c.deleteQueues()
		if cerr := c.channel.Close(); cerr != nil && !rabbitmq.IsClosed(cerr) && err == nil {
			err = cerr
		}
	}
	if !c.conn.IsClosed() {
		if cerr := c.conn.Close(); cerr != nil && !rabbitmq.IsClosed(cerr) && err == nil {
			err = cerr
		}
	}

	c.logger.Info("connection closed", "exchange", c.cfg.Exchange)

	return err
}

// deleteQueues unbinds and deletes every tracked queue, de-duplicated by
// name. Queues the broker already removed (auto-delete) are skipped; the
// first genuine broker error is returned after the sweep finishes.
// Must be called with c.mu held.
func (c *Connector) deleteQueues() error {
	seen := make(map[string]struct{}, len(c.queues))
	var firstErr error

	for _, qb := range c.queues {
		if _, dup := seen[qb.name]; dup {
			continue
		}
		seen[qb.name] = struct{}{}

		if err := c.channel.QueueUnbind(qb.name, qb.routingKey, c.cfg.Exchange, nil); err != nil {
			if rabbitmq.IsNotFound(err) {
				c.logger.Debug("queue already removed by broker", "queue", qb.name)
				continue
			}
			c.logger.Error("failed to unbind queue", "queue", qb.name, "error", err)
			if firstErr == nil {
				firstErr = &rabbitmq.TopologyError{
					Component: "binding",
					Name:      qb.name,
					Op:        "unbind",
					Err:       err,
					Timestamp: time.Now(),
				}
			}
			continue
		}

		if _, err := c.channel.QueueDelete(qb.name, false, false, false); err != nil {
			if rabbitmq.IsNotFound(err) {
				continue
			}
			c.logger.Error("failed to delete queue", "queue", qb.name, "error", err)
			if firstErr == nil {
				firstErr = &rabbitmq.TopologyError{
					Component: "queue",
					Name:      qb.name,
					Op:        "delete",
					Err:       err,
					Timestamp: time.Now(),
				}
			}
			continue
		}

		c.logger.Debug("queue deleted", "queue", qb.name)
	}

	c.queues = nil
	return firstErr
}

// checkOpen must be called with c.mu held.
func (c *Connector) checkOpen() error {
	if c.closed {
		return rabbitmq.ErrClosed
	}
	if c.channel == nil {
		return rabbitmq.ErrNotConnected
	}
	return nil
}
