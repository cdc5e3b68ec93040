package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/twinbus/twinbus-go/codec"
	"github.com/twinbus/twinbus-go/internal/rabbitmq"
)

// Subscribe creates a fresh queue bound to routingKey and registers callback
// for it. Deliveries are auto-acknowledged the moment the broker hands them
// over, so a failing callback never causes redelivery. The created queue
// name is returned; nothing is dispatched until Consume runs.
func (c *Connector) Subscribe(routingKey string, callback Callback) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpen(); err != nil {
		return "", err
	}

	queue, err := c.declareQueue(routingKey)
	if err != nil {
		return "", err
	}

	deliveries, err := c.channel.Consume(
		queue,
		uuid.NewString(), // consumer tag
		true,             // auto-ack
		false,            // exclusive consumer
		false,            // no-local
		false,            // no-wait
		nil,
	)
	if err != nil {
		return "", &rabbitmq.ConsumerError{
			Queue:     queue,
			Op:        "consume",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	c.handlers[queue] = callback
	go c.forward(queue, deliveries)

	c.logger.Info("subscribed", "routingKey", routingKey, "queue", queue)

	return queue, nil
}

// forward funnels one consumer's deliveries into the shared inbox so the
// Consume loop dispatches everything from a single goroutine.
func (c *Connector) forward(queue string, deliveries <-chan amqp.Delivery) {
	for delivery := range deliveries {
		select {
		case c.inbox <- inbound{queue: queue, delivery: delivery}:
		case <-c.done:
			return
		}
	}
}

// Consume blocks, dispatching deliveries to their registered callbacks as
// they arrive. It returns when ctx is cancelled, when Close is called (nil),
// or when the channel or connection dies underneath it (ConnectionError).
func (c *Connector) Consume(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkOpen(); err != nil {
		c.mu.Unlock()
		return err
	}
	notifyClose := c.notifyClose
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.done:
			return nil

		case amqpErr, ok := <-notifyClose:
			if !ok || amqpErr == nil {
				// Channel closed gracefully, nothing left to dispatch.
				return nil
			}
			return &rabbitmq.ConnectionError{
				Op:        "consume",
				Err:       amqpErr,
				Timestamp: time.Now(),
			}

		case in := <-c.inbox:
			c.dispatch(ctx, in)
		}
	}
}

// dispatch decodes a delivery and invokes the callback registered for its
// queue. Decode and callback failures are logged and dropped: the broker
// already considers the message consumed.
func (c *Connector) dispatch(ctx context.Context, in inbound) {
	c.mu.Lock()
	callback, ok := c.handlers[in.queue]
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("delivery for unknown queue", "queue", in.queue)
		return
	}

	body, err := codec.Decode(in.delivery.Body)
	if err != nil {
		c.logger.Error("failed to decode delivery",
			"queue", in.queue,
			"routingKey", in.delivery.RoutingKey,
			"error", err)
		c.metrics.RecordDelivery(in.queue, false)
		return
	}

	d := Delivery{
		Queue:      in.queue,
		RoutingKey: in.delivery.RoutingKey,
		Headers:    map[string]any(in.delivery.Headers),
		Body:       body,
	}

	if err := callback.OnMessage(ctx, d); err != nil {
		c.logger.Error("callback failed",
			"queue", in.queue,
			"routingKey", in.delivery.RoutingKey,
			"error", err)
		c.metrics.RecordDelivery(in.queue, false)
		return
	}

	c.metrics.RecordDelivery(in.queue, true)
}
