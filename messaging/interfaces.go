package messaging

import "context"

// Delivery is a decoded message handed to a subscription callback.
type Delivery struct {
	Queue      string
	RoutingKey string
	Headers    map[string]any
	Body       any
}

// Callback handles decoded deliveries for one subscription.
type Callback interface {
	OnMessage(ctx context.Context, d Delivery) error
}

// CallbackFunc is a function adapter for Callback.
type CallbackFunc func(ctx context.Context, d Delivery) error

// OnMessage implements Callback.
func (f CallbackFunc) OnMessage(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// MetricsCollector collects connector metrics.
type MetricsCollector interface {
	// RecordPublish records a publish attempt.
	RecordPublish(routingKey string, success bool)

	// RecordDelivery records a dispatched delivery.
	RecordDelivery(queue string, success bool)

	// RecordPoll records a non-blocking fetch. hit is false when the queue
	// was empty.
	RecordPoll(queue string, hit bool)
}

// NopMetricsCollector is a no-op implementation of MetricsCollector.
type NopMetricsCollector struct{}

// RecordPublish does nothing.
func (NopMetricsCollector) RecordPublish(routingKey string, success bool) {}

// RecordDelivery does nothing.
func (NopMetricsCollector) RecordDelivery(queue string, success bool) {}

// RecordPoll does nothing.
func (NopMetricsCollector) RecordPoll(queue string, hit bool) {}
