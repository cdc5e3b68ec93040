package rabbitmq

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel the connector drives. It exists so
// the messaging layer can be tested against a mock broker.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueUnbind(name, key, exchange string, args amqp.Table) error
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
	IsClosed() bool
}

// Conn is a live transport session to the broker.
type Conn interface {
	Channel() (Channel, error)
	Close() error
	IsClosed() bool
}

type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialConfig carries everything needed to open a connection.
type DialConfig struct {
	URI     string
	TLS     *tls.Config // nil for a plain connection
	Timeout time.Duration
}

// Dial opens a connection to the broker, optionally over TLS. The dial is
// bounded by cfg.Timeout (or the context deadline, whichever fires first).
func Dial(ctx context.Context, cfg DialConfig) (Conn, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	connChan := make(chan *amqp.Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		var conn *amqp.Connection
		var err error
		if cfg.TLS != nil {
			conn, err = amqp.DialTLS(cfg.URI, cfg.TLS)
		} else {
			conn, err = amqp.Dial(cfg.URI)
		}
		if err != nil {
			errChan <- err
			return
		}
		select {
		case connChan <- conn:
		case <-dialCtx.Done():
			conn.Close()
		}
	}()

	select {
	case conn := <-connChan:
		return amqpConn{conn}, nil

	case err := <-errChan:
		return nil, &ConnectionError{
			Op:        "dial",
			URL:       SanitizeURI(cfg.URI),
			Err:       err,
			Timestamp: time.Now(),
		}

	case <-dialCtx.Done():
		return nil, &ConnectionError{
			Op:        "dial",
			URL:       SanitizeURI(cfg.URI),
			Err:       ErrConnectionTimeout,
			Timestamp: time.Now(),
		}
	}
}

// URI builds an AMQP connection URI from discrete settings.
func URI(host string, port int, username, password, vhost string, useTLS bool) string {
	scheme := "amqp"
	if useTLS {
		scheme = "amqps"
	}

	// url.URL percent-escapes userinfo and path. Query escaping is wrong
	// here: userinfo parsing keeps "+" literal.
	u := url.URL{
		Scheme: scheme,
		User:   url.UserPassword(username, password),
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	// A bare trailing "/" reads back as the empty vhost, so the default
	// vhost is expressed by omitting the path.
	if v := strings.TrimPrefix(vhost, "/"); v != "" {
		u.Path = "/" + v
	}
	return u.String()
}

// SanitizeURI strips credentials from a connection URI so it is safe to log.
func SanitizeURI(uri string) string {
	parsed, err := amqp.ParseURI(uri)
	if err != nil {
		// Not parseable, keep only the part after any credentials.
		if i := strings.LastIndex(uri, "@"); i >= 0 {
			return "***@" + uri[i+1:]
		}
		return uri
	}
	u := url.URL{
		Scheme: parsed.Scheme,
		Host:   fmt.Sprintf("%s:%d", parsed.Host, parsed.Port),
	}
	if v := strings.TrimPrefix(parsed.Vhost, "/"); v != "" {
		u.Path = "/" + v
	}
	return u.String()
}
