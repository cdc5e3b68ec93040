package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	twinbus "github.com/twinbus/twinbus-go"
	"github.com/twinbus/twinbus-go/config"
	"github.com/twinbus/twinbus-go/messaging"
)

var (
	version = "dev"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "twinbus-tap: %v\n", err)
		os.Exit(1)
	}
	logger := settings.Log.Logger(os.Stderr)

	var (
		exchange     string
		exchangeType string
		retryFor     time.Duration
	)

	rootCmd := &cobra.Command{
		Use:     "twinbus-tap",
		Short:   "Inspect and exercise a twinbus exchange",
		Long:    "twinbus-tap connects to the message bus, taps routing keys, and publishes test messages.\nBroker settings come from TWINBUS_* environment variables; flags override the exchange.",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&exchange, "exchange", "e", "", "exchange name (overrides TWINBUS_EXCHANGE)")
	rootCmd.PersistentFlags().StringVarP(&exchangeType, "type", "t", "", "exchange type: direct|topic|fanout|headers")
	rootCmd.PersistentFlags().DurationVar(&retryFor, "retry-for", 0, "keep retrying the initial connection for this long")

	connectorConfig := func() messaging.Config {
		cfg := settings.ConnectorConfig()
		if exchange != "" {
			cfg.Exchange = exchange
		}
		if exchangeType != "" {
			cfg.ExchangeType = messaging.ExchangeType(exchangeType)
		}
		return cfg
	}

	tapCmd := &cobra.Command{
		Use:   "tap <routing-key> [routing-key...]",
		Short: "Subscribe to routing keys and print decoded messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := connect(ctx, connectorConfig(), retryFor, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			for _, key := range args {
				queue, err := client.Subscribe(key, messaging.CallbackFunc(printMessage))
				if err != nil {
					return err
				}
				logger.Info("tapping", "routingKey", key, "queue", queue)
			}

			if err := client.Consume(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	publishCmd := &cobra.Command{
		Use:   "publish <routing-key> <json>",
		Short: "Publish one JSON message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var message any
			if err := json.Unmarshal([]byte(args[1]), &message); err != nil {
				return fmt.Errorf("message is not valid JSON: %w", err)
			}

			ctx := context.Background()
			return twinbus.WithClient(ctx, connectorConfig(), func(client *twinbus.Client) error {
				if err := client.Send(ctx, args[0], message); err != nil {
					return err
				}
				logger.Info("published", "routingKey", args[0])
				return nil
			}, twinbus.WithLogger(logger))
		},
	}

	pollCmd := &cobra.Command{
		Use:   "poll <routing-key>",
		Short: "Bind a queue to a routing key and fetch at most one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return twinbus.WithClient(ctx, connectorConfig(), func(client *twinbus.Client) error {
				queue, err := client.DeclareQueue(args[0])
				if err != nil {
					return err
				}

				message, ok, err := client.Poll(queue)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("no message pending")
					return nil
				}
				return printJSON(message)
			}, twinbus.WithLogger(logger))
		},
	}

	rootCmd.AddCommand(tapCmd, publishCmd, pollCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "twinbus-tap: %v\n", err)
		os.Exit(1)
	}
}

// connect opens a client, optionally retrying the initial connection with
// exponential backoff. The connector itself never retries; that policy
// belongs here, in the embedding application.
func connect(ctx context.Context, cfg messaging.Config, retryFor time.Duration, logger *slog.Logger) (*twinbus.Client, error) {
	client, err := twinbus.NewClient(cfg, twinbus.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if retryFor <= 0 {
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = retryFor

	err = backoff.RetryNotify(
		func() error { return client.Connect(ctx) },
		backoff.WithContext(policy, ctx),
		func(err error, next time.Duration) {
			logger.Warn("connect failed, retrying", "error", err, "nextAttemptIn", next)
		},
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func printMessage(_ context.Context, d messaging.Delivery) error {
	fmt.Printf("[%s] ", d.RoutingKey)
	return printJSON(d.Body)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
