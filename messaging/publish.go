package messaging

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/twinbus/twinbus-go/codec"
	"github.com/twinbus/twinbus-go/internal/rabbitmq"
)

// PublishOption adjusts the delivery properties of an outgoing message.
type PublishOption func(*amqp.Publishing)

// WithHeaders sets application headers on the outgoing message.
func WithHeaders(headers map[string]any) PublishOption {
	return func(p *amqp.Publishing) {
		p.Headers = amqp.Table(headers)
	}
}

// WithContentType overrides the default application/json content type.
func WithContentType(contentType string) PublishOption {
	return func(p *amqp.Publishing) {
		p.ContentType = contentType
	}
}

// WithCorrelationID sets the correlation id property.
func WithCorrelationID(id string) PublishOption {
	return func(p *amqp.Publishing) {
		p.CorrelationId = id
	}
}

// WithMessageID overrides the generated message id.
func WithMessageID(id string) PublishOption {
	return func(p *amqp.Publishing) {
		p.MessageId = id
	}
}

// WithExpiration sets a per-message TTL.
func WithExpiration(ttl time.Duration) PublishOption {
	return func(p *amqp.Publishing) {
		p.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}
}

// Send encodes message as JSON and publishes it to the connector's exchange
// under routingKey. It is fire-and-forget: no delivery confirmation is
// awaited, success means the local channel accepted the message for
// transmission. Encoding failures surface before anything touches the wire.
func (c *Connector) Send(ctx context.Context, routingKey string, message any, options ...PublishOption) error {
	body, err := codec.Encode(message)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpen(); err != nil {
		return err
	}

	publishing := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now(),
		Body:        body,
	}
	for _, opt := range options {
		opt(&publishing)
	}

	err = c.channel.PublishWithContext(
		ctx,
		c.cfg.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		publishing,
	)
	if err != nil {
		c.metrics.RecordPublish(routingKey, false)
		return &rabbitmq.PublishError{
			Exchange:   c.cfg.Exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	c.metrics.RecordPublish(routingKey, true)
	c.logger.Debug("message published",
		"exchange", c.cfg.Exchange,
		"routingKey", routingKey,
		"bytes", len(body))

	return nil
}

// Poll performs a non-blocking single fetch from queue with
// auto-acknowledge. It returns (nil, false, nil) when no message is
// pending; it never blocks waiting for one.
func (c *Connector) Poll(queue string) (any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpen(); err != nil {
		return nil, false, err
	}

	delivery, ok, err := c.channel.Get(queue, true)
	if err != nil {
		return nil, false, &rabbitmq.ConsumerError{
			Queue:     queue,
			Op:        "get",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	if !ok {
		c.metrics.RecordPoll(queue, false)
		return nil, false, nil
	}

	message, err := codec.Decode(delivery.Body)
	if err != nil {
		c.metrics.RecordPoll(queue, false)
		return nil, false, err
	}

	c.metrics.RecordPoll(queue, true)
	return message, true, nil
}
