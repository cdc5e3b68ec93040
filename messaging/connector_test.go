package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/twinbus/twinbus-go/internal/rabbitmq"
)

// mockChannel mocks rabbitmq.Channel.
type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait, args).Error(0)
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	callArgs := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return callArgs.Get(0).(amqp.Queue), callArgs.Error(1)
}

func (m *mockChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return m.Called(name, key, exchange, noWait, args).Error(0)
}

func (m *mockChannel) QueueUnbind(name, key, exchange string, args amqp.Table) error {
	return m.Called(name, key, exchange, args).Error(0)
}

func (m *mockChannel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	callArgs := m.Called(name, ifUnused, ifEmpty, noWait)
	return callArgs.Int(0), callArgs.Error(1)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *mockChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	callArgs := m.Called(queue, autoAck)
	return callArgs.Get(0).(amqp.Delivery), callArgs.Bool(1), callArgs.Error(2)
}

func (m *mockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	callArgs := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
	deliveries, _ := callArgs.Get(0).(<-chan amqp.Delivery)
	return deliveries, callArgs.Error(1)
}

func (m *mockChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	m.Called(receiver)
	return receiver
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func (m *mockChannel) IsClosed() bool {
	return m.Called().Bool(0)
}

// mockConn mocks rabbitmq.Conn.
type mockConn struct {
	mock.Mock
}

func (m *mockConn) Channel() (rabbitmq.Channel, error) {
	args := m.Called()
	ch, _ := args.Get(0).(rabbitmq.Channel)
	return ch, args.Error(1)
}

func (m *mockConn) Close() error {
	return m.Called().Error(0)
}

func (m *mockConn) IsClosed() bool {
	return m.Called().Bool(0)
}

func testConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         5672,
		Username:     "guest",
		Password:     "guest",
		VHost:        "/",
		Exchange:     "events",
		ExchangeType: ExchangeTopic,
	}
}

// newTestConnector wires a connector to a mocked connection and channel.
func newTestConnector(t *testing.T, ch *mockChannel) (*Connector, *mockConn) {
	t.Helper()

	conn := &mockConn{}
	conn.On("Channel").Return(ch, nil)
	conn.On("IsClosed").Return(false).Maybe()

	c, err := NewConnector(testConfig())
	require.NoError(t, err)

	c.dial = func(ctx context.Context, cfg rabbitmq.DialConfig) (rabbitmq.Conn, error) {
		return conn, nil
	}
	return c, conn
}

func expectExchangeDeclare(ch *mockChannel) {
	ch.On("ExchangeDeclare", "events", "topic", false, false, false, false, amqp.Table(nil)).Return(nil)
	ch.On("NotifyClose", mock.Anything).Return()
	ch.On("IsClosed").Return(false).Maybe()
}

func TestNewConnector(t *testing.T) {
	t.Run("creates connector with defaults", func(t *testing.T) {
		c, err := NewConnector(testConfig())
		require.NoError(t, err)

		assert.NotNil(t, c.logger)
		assert.NotNil(t, c.metrics)
		assert.Equal(t, 30*time.Second, c.dialTimeout)
		assert.False(t, c.closed)
		assert.Empty(t, c.queues)
	})

	t.Run("rejects invalid exchange type", func(t *testing.T) {
		cfg := testConfig()
		cfg.ExchangeType = "pubsub"
		_, err := NewConnector(cfg)
		assert.Error(t, err)
	})

	t.Run("rejects empty host and exchange", func(t *testing.T) {
		cfg := testConfig()
		cfg.Host = ""
		_, err := NewConnector(cfg)
		assert.Error(t, err)

		cfg = testConfig()
		cfg.Exchange = ""
		_, err = NewConnector(cfg)
		assert.Error(t, err)
	})

	t.Run("applies options", func(t *testing.T) {
		c, err := NewConnector(testConfig(), WithDialTimeout(time.Second))
		require.NoError(t, err)
		assert.Equal(t, time.Second, c.dialTimeout)
	})
}

func TestConnect(t *testing.T) {
	t.Run("dials, opens channel, declares exchange", func(t *testing.T) {
		ch := &mockChannel{}
		expectExchangeDeclare(ch)
		c, _ := newTestConnector(t, ch)

		err := c.Connect(context.Background())
		require.NoError(t, err)

		assert.NotNil(t, c.channel)
		ch.AssertExpectations(t)
	})

	t.Run("second Connect is a no-op", func(t *testing.T) {
		ch := &mockChannel{}
		expectExchangeDeclare(ch)
		c, conn := newTestConnector(t, ch)

		require.NoError(t, c.Connect(context.Background()))
		require.NoError(t, c.Connect(context.Background()))

		conn.AssertNumberOfCalls(t, "Channel", 1)
		ch.AssertNumberOfCalls(t, "ExchangeDeclare", 1)
	})

	t.Run("dial failure leaves connector unconnected", func(t *testing.T) {
		c, err := NewConnector(testConfig())
		require.NoError(t, err)

		dialErr := &rabbitmq.ConnectionError{Op: "dial", Err: errors.New("refused")}
		c.dial = func(ctx context.Context, cfg rabbitmq.DialConfig) (rabbitmq.Conn, error) {
			return nil, dialErr
		}

		err = c.Connect(context.Background())
		require.Error(t, err)

		var connErr *rabbitmq.ConnectionError
		assert.ErrorAs(t, err, &connErr)
		assert.Nil(t, c.channel)
	})

	t.Run("channel failure closes the dialed connection", func(t *testing.T) {
		conn := &mockConn{}
		conn.On("Channel").Return(nil, errors.New("no channel"))
		conn.On("Close").Return(nil)

		c, err := NewConnector(testConfig())
		require.NoError(t, err)
		c.dial = func(ctx context.Context, cfg rabbitmq.DialConfig) (rabbitmq.Conn, error) {
			return conn, nil
		}

		err = c.Connect(context.Background())
		require.Error(t, err)

		var connErr *rabbitmq.ConnectionError
		assert.ErrorAs(t, err, &connErr)
		assert.Equal(t, "open channel", connErr.Op)
		assert.Nil(t, c.channel)
		conn.AssertCalled(t, "Close")
	})

	t.Run("exchange conflict surfaces as TopologyError and tears down", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("ExchangeDeclare", "events", "topic", false, false, false, false, amqp.Table(nil)).
			Return(&amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent arg 'type'"})
		ch.On("Close").Return(nil)
		c, conn := newTestConnector(t, ch)
		conn.On("Close").Return(nil)

		err := c.Connect(context.Background())
		require.Error(t, err)

		var topoErr *rabbitmq.TopologyError
		assert.ErrorAs(t, err, &topoErr)
		assert.Equal(t, "exchange", topoErr.Component)
		assert.Nil(t, c.channel)
		ch.AssertCalled(t, "Close")
		conn.AssertCalled(t, "Close")
	})

	t.Run("bad TLS config fails before dialing", func(t *testing.T) {
		cfg := testConfig()
		cfg.TLS = &TLSConfig{Protocol: "SSLv3"}

		c, err := NewConnector(cfg)
		require.NoError(t, err)

		dialed := false
		c.dial = func(ctx context.Context, dc rabbitmq.DialConfig) (rabbitmq.Conn, error) {
			dialed = true
			return nil, errors.New("unreachable")
		}

		err = c.Connect(context.Background())
		require.Error(t, err)
		assert.False(t, dialed)

		var connErr *rabbitmq.ConnectionError
		assert.ErrorAs(t, err, &connErr)
		assert.Equal(t, "configure tls", connErr.Op)
	})
}

func TestDeclareQueue(t *testing.T) {
	t.Run("returns server-named queue bound to the routing key", func(t *testing.T) {
		ch := &mockChannel{}
		expectExchangeDeclare(ch)
		ch.On("QueueDeclare", "", false, true, true, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "amq.gen-1"}, nil).Once()
		ch.On("QueueBind", "amq.gen-1", "sensor.temp", "events", false, amqp.Table(nil)).Return(nil)

		c, _ := newTestConnector(t, ch)
		require.NoError(t, c.Connect(context.Background()))

		name, err := c.DeclareQueue("sensor.temp")
		require.NoError(t, err)
		assert.Equal(t, "amq.gen-1", name)
		assert.Equal(t, []queueBinding{{name: "amq.gen-1", routingKey: "sensor.temp"}}, c.queues)
	})

	t.Run("same routing key produces distinct queues, both tracked", func(t *testing.T) {
		ch := &mockChannel{}
		expectExchangeDeclare(ch)
		ch.On("QueueDeclare", "", false, true, true, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "amq.gen-1"}, nil).Once()
		ch.On("QueueDeclare", "", false, true, true, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "amq.gen-2"}, nil).Once()
		ch.On("QueueBind", mock.Anything, "a", "events", false, amqp.Table(nil)).Return(nil)

		c, _ := newTestConnector(t, ch)
		require.NoError(t, c.Connect(context.Background()))

		q1, err := c.DeclareQueue("a")
		require.NoError(t, err)
		q2, err := c.DeclareQueue("a")
		require.NoError(t, err)

		assert.NotEqual(t, q1, q2)
		assert.Len(t, c.queues, 2)
	})

	t.Run("fails before Connect", func(t *testing.T) {
		c, err := NewConnector(testConfig())
		require.NoError(t, err)

		_, err = c.DeclareQueue("a")
		assert.ErrorIs(t, err, rabbitmq.ErrNotConnected)
	})

	t.Run("bind failure surfaces as TopologyError", func(t *testing.T) {
		ch := &mockChannel{}
		expectExchangeDeclare(ch)
		ch.On("QueueDeclare", "", false, true, true, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "amq.gen-1"}, nil)
		ch.On("QueueBind", "amq.gen-1", "a", "events", false, amqp.Table(nil)).
			Return(errors.New("bind refused"))

		c, _ := newTestConnector(t, ch)
		require.NoError(t, c.Connect(context.Background()))

		_, err := c.DeclareQueue("a")
		var topoErr *rabbitmq.TopologyError
		assert.ErrorAs(t, err, &topoErr)
		assert.Equal(t, "bind", topoErr.Op)
	})
}

func TestClose(t *testing.T) {
	t.Run("deletes queues, then closes channel, then connection", func(t *testing.T) {
		var order []string

		ch := &mockChannel{}
		expectExchangeDeclare(ch)
		ch.On("QueueDeclare", "", false, true, true, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "amq.gen-1"}, nil)
		ch.On("QueueBind", "amq.gen-1", "a", "events", false, amqp.Table(nil)).Return(nil)
		ch.On("QueueUnbind", "amq.gen-1", "a", "events", amqp.Table(nil)).
			Run(func(mock.Arguments) { order = append(order, "unbind") }).Return(nil)
		ch.On("QueueDelete", "amq.gen-1", false, false, false).
			Run(func(mock.Arguments) { order = append(order, "delete") }).Return(0, nil)
		ch.On("Close").Run(func(mock.Arguments) { order = append(order, "channel") }).Return(nil)

		c, conn := newTestConnector(t, ch)
		conn.On("Close").Run(func(mock.Arguments) { order = append(order, "connection") }).Return(nil)

		require.NoError(t, c.Connect(context.Background()))
		_, err := c.DeclareQueue("a")
		require.NoError(t, err)

		require.NoError(t, c.Close())
		assert.Equal(t, []string{"unbind", "delete", "channel", "connection"}, order)
	})

	t.Run("is idempotent", func(t *testing.T) {
		ch := &mockChannel{}
		expectExchangeDeclare(ch)
		ch.On("Close").Return(nil)

		c, conn := newTestConnector(t, ch)
		conn.On("Close").Return(nil)

		require.NoError(t, c.Connect(context.Background()))
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		ch.AssertNumberOfCalls(t, "Close", 1)
		conn.AssertNumberOfCalls(t, "Close", 1)
	})

	t.Run("before Connect is a no-op", func(t *testing.T) {
		c, err := NewConnector(testConfig())
		require.NoError(t, err)
		assert.NoError(t, c.Close())
	})

	t.Run("duplicate tracked names are cleaned up once", func(t *testing.T) {
		ch := &mockChannel{}
		expectExchangeDeclare(ch)
		// Broker hands back the same name twice.
		ch.On("QueueDeclare", "", false, true, true, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "amq.gen-1"}, nil)
		ch.On("QueueBind", "amq.gen-1", "a", "events", false, amqp.Table(nil)).Return(nil)
		ch.On("QueueUnbind", "amq.gen-1", "a", "events", amqp.Table(nil)).Return(nil)
		ch.On("QueueDelete", "amq.gen-1", false, false, false).Return(0, nil)
		ch.On("Close").Return(nil)

		c, conn := newTestConnector(t, ch)
		conn.On("Close").Return(nil)

		require.NoError(t, c.Connect(context.Background()))
		_, err := c.DeclareQueue("a")
		require.NoError(t, err)
		_, err = c.DeclareQueue("a")
		require.NoError(t, err)
		require.Len(t, c.queues, 2)

		require.NoError(t, c.Close())

		ch.AssertNumberOfCalls(t, "QueueUnbind", 1)
		ch.AssertNumberOfCalls(t, "QueueDelete", 1)
	})

	t.Run("tolerates queues the broker already removed", func(t *testing.T) {
		ch := &mockChannel{}
		expectExchangeDeclare(ch)
		ch.On("QueueDeclare", "", false, true, true, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "amq.gen-1"}, nil)
		ch.On("QueueBind", "amq.gen-1", "a", "events", false, amqp.Table(nil)).Return(nil)
		ch.On("QueueUnbind", "amq.gen-1", "a", "events", amqp.Table(nil)).
			Return(&amqp.Error{Code: amqp.NotFound, Reason: "no queue"})
		ch.On("Close").Return(nil)

		c, conn := newTestConnector(t, ch)
		conn.On("Close").Return(nil)

		require.NoError(t, c.Connect(context.Background()))
		_, err := c.DeclareQueue("a")
		require.NoError(t, err)

		assert.NoError(t, c.Close())
		ch.AssertNotCalled(t, "QueueDelete", "amq.gen-1", false, false, false)
	})

	t.Run("propagates genuine cleanup errors", func(t *testing.T) {
		ch := &mockChannel{}
		expectExchangeDeclare(ch)
		ch.On("QueueDeclare", "", false, true, true, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "amq.gen-1"}, nil)
		ch.On("QueueBind", "amq.gen-1", "a", "events", false, amqp.Table(nil)).Return(nil)
		ch.On("QueueUnbind", "amq.gen-1", "a", "events", amqp.Table(nil)).
			Return(&amqp.Error{Code: amqp.AccessRefused, Reason: "denied"})
		ch.On("Close").Return(nil)

		c, conn := newTestConnector(t, ch)
		conn.On("Close").Return(nil)

		require.NoError(t, c.Connect(context.Background()))
		_, err := c.DeclareQueue("a")
		require.NoError(t, err)

		err = c.Close()
		var topoErr *rabbitmq.TopologyError
		assert.ErrorAs(t, err, &topoErr)
	})

	t.Run("skips broker cleanup when the channel already died", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("ExchangeDeclare", "events", "topic", false, false, false, false, amqp.Table(nil)).Return(nil)
		ch.On("NotifyClose", mock.Anything).Return()
		ch.On("QueueDeclare", "", false, true, true, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "amq.gen-1"}, nil)
		ch.On("QueueBind", "amq.gen-1", "a", "events", false, amqp.Table(nil)).Return(nil)
		ch.On("IsClosed").Return(true)

		c, conn := newTestConnector(t, ch)
		conn.On("Close").Return(nil)

		require.NoError(t, c.Connect(context.Background()))
		_, err := c.DeclareQueue("a")
		require.NoError(t, err)

		require.NoError(t, c.Close())

		ch.AssertNotCalled(t, "QueueUnbind", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		ch.AssertNotCalled(t, "QueueDelete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		ch.AssertNotCalled(t, "Close")
		conn.AssertCalled(t, "Close")
		assert.Empty(t, c.queues)
	})

	t.Run("operations after Close fail with ErrClosed", func(t *testing.T) {
		ch := &mockChannel{}
		expectExchangeDeclare(ch)
		ch.On("Close").Return(nil)

		c, conn := newTestConnector(t, ch)
		conn.On("Close").Return(nil)

		require.NoError(t, c.Connect(context.Background()))
		require.NoError(t, c.Close())

		assert.ErrorIs(t, c.Connect(context.Background()), rabbitmq.ErrClosed)
		assert.ErrorIs(t, c.Send(context.Background(), "a", "x"), rabbitmq.ErrClosed)
		_, _, err := c.Poll("q")
		assert.ErrorIs(t, err, rabbitmq.ErrClosed)
		_, err = c.Subscribe("a", CallbackFunc(func(context.Context, Delivery) error { return nil }))
		assert.ErrorIs(t, err, rabbitmq.ErrClosed)
		_, err = c.DeclareQueue("a")
		assert.ErrorIs(t, err, rabbitmq.ErrClosed)
		assert.ErrorIs(t, c.Consume(context.Background()), rabbitmq.ErrClosed)
	})
}
