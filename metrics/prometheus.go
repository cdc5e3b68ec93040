// Package metrics provides a Prometheus implementation of the connector's
// MetricsCollector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "twinbus"

// PrometheusCollector records connector activity as Prometheus counters.
// It satisfies messaging.MetricsCollector.
type PrometheusCollector struct {
	publishes  *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	polls      *prometheus.CounterVec
}

// NewPrometheusCollector registers the connector counters on reg and returns
// the collector. Pass prometheus.DefaultRegisterer to use the default
// registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages published to the exchange, by routing key and outcome.",
		}, []string{"routing_key", "success"}),

		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Deliveries dispatched to subscription callbacks, by queue and outcome.",
		}, []string{"queue", "success"}),

		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Non-blocking fetches, by queue and whether a message was pending.",
		}, []string{"queue", "hit"}),
	}
}

// RecordPublish implements messaging.MetricsCollector.
func (c *PrometheusCollector) RecordPublish(routingKey string, success bool) {
	c.publishes.WithLabelValues(routingKey, boolLabel(success)).Inc()
}

// RecordDelivery implements messaging.MetricsCollector.
func (c *PrometheusCollector) RecordDelivery(queue string, success bool) {
	c.deliveries.WithLabelValues(queue, boolLabel(success)).Inc()
}

// RecordPoll implements messaging.MetricsCollector.
func (c *PrometheusCollector) RecordPoll(queue string, hit bool) {
	c.polls.WithLabelValues(queue, boolLabel(hit)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
