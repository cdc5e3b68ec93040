// Package config loads twinbus settings from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/kelseyhightower/envconfig"

	"github.com/twinbus/twinbus-go/messaging"
)

// BrokerSettings describe how to reach the broker and which exchange the
// connector owns.
type BrokerSettings struct {
	Host     string `envconfig:"TWINBUS_BROKER_HOST" default:"localhost"`
	Port     int    `envconfig:"TWINBUS_BROKER_PORT" default:"5672"`
	Username string `envconfig:"TWINBUS_BROKER_USERNAME" default:"guest"`
	Password string `envconfig:"TWINBUS_BROKER_PASSWORD" default:"guest"`
	VHost    string `envconfig:"TWINBUS_BROKER_VHOST" default:"/"`

	Exchange     string `envconfig:"TWINBUS_EXCHANGE" default:"twinbus"`
	ExchangeType string `envconfig:"TWINBUS_EXCHANGE_TYPE" default:"topic"`

	TLS TLSSettings
}

// TLSSettings enable and shape the TLS context used for amqps connections.
type TLSSettings struct {
	Enabled  bool   `envconfig:"TWINBUS_TLS_ENABLED" default:"false"`
	Protocol string `envconfig:"TWINBUS_TLS_PROTOCOL" default:"TLSv1.2"`
	Ciphers  string `envconfig:"TWINBUS_TLS_CIPHERS" default:""`
}

// LogSettings control the structured logger handed to the connector.
type LogSettings struct {
	Level  string `envconfig:"TWINBUS_LOG_LEVEL" default:"info"`
	Format string `envconfig:"TWINBUS_LOG_FORMAT" default:"json"`
}

// Settings is the full environment-driven configuration.
type Settings struct {
	Broker BrokerSettings
	Log    LogSettings
}

// Load reads Settings from the environment.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("config: failed to process environment: %w", err)
	}
	return &s, nil
}

// ConnectorConfig converts the broker settings into a messaging.Config.
func (s *Settings) ConnectorConfig() messaging.Config {
	cfg := messaging.Config{
		Host:         s.Broker.Host,
		Port:         s.Broker.Port,
		Username:     s.Broker.Username,
		Password:     s.Broker.Password,
		VHost:        s.Broker.VHost,
		Exchange:     s.Broker.Exchange,
		ExchangeType: messaging.ExchangeType(s.Broker.ExchangeType),
	}
	if s.Broker.TLS.Enabled {
		cfg.TLS = &messaging.TLSConfig{
			Protocol: s.Broker.TLS.Protocol,
			Ciphers:  s.Broker.TLS.Ciphers,
		}
	}
	return cfg
}

// Logger builds a slog.Logger matching the log settings.
func (l LogSettings) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if l.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
