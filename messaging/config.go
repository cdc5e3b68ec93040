package messaging

import (
	"fmt"

	"github.com/twinbus/twinbus-go/internal/rabbitmq"
)

// ExchangeType enumerates the AMQP exchange types.
type ExchangeType string

const (
	ExchangeDirect  ExchangeType = "direct"
	ExchangeTopic   ExchangeType = "topic"
	ExchangeFanout  ExchangeType = "fanout"
	ExchangeHeaders ExchangeType = "headers"
)

// Validate checks that the exchange type is one the broker understands.
func (t ExchangeType) Validate() error {
	switch t {
	case ExchangeDirect, ExchangeTopic, ExchangeFanout, ExchangeHeaders:
		return nil
	default:
		return fmt.Errorf("messaging: invalid exchange type %q", string(t))
	}
}

// TLSConfig selects the TLS protocol version and cipher suites used when
// dialing the broker over amqps.
type TLSConfig struct {
	Protocol string // e.g. "TLSv1.2"
	Ciphers  string // colon-separated IANA cipher-suite names, empty for defaults
}

// Config fully determines how the connector reaches the broker and which
// exchange it owns. It is immutable once handed to NewConnector.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string

	Exchange     string
	ExchangeType ExchangeType

	TLS *TLSConfig // nil for a plain connection
}

// Validate checks the config for values the broker would reject outright.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("messaging: host must not be empty")
	}
	if c.Port <= 0 {
		return fmt.Errorf("messaging: invalid port %d", c.Port)
	}
	if c.Exchange == "" {
		return fmt.Errorf("messaging: exchange name must not be empty")
	}
	return c.ExchangeType.Validate()
}

func (c Config) uri() string {
	return rabbitmq.URI(c.Host, c.Port, c.Username, c.Password, c.VHost, c.TLS != nil)
}
