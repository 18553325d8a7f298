package rabbitmq

import (
	"context"

	"github.com/streadway/amqp"
	"queue-router/internal/brokers"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
	"queue-router/internal/config"
)

const BrokerType = "rabbitmq"

// Factory dials AMQP connections with retry
type Factory struct {
	Dial  DialFunc
	Retry func(maxTries int) brokers.RetryPolicy
}

// NewFactory returns a factory dialing real brokers
func NewFactory() *Factory {
	return &Factory{Dial: Dial, Retry: brokers.DefaultRetryPolicy}
}

// Type implements brokers.Factory
func (f *Factory) Type() string {
	return BrokerType
}

// Connect implements brokers.Factory
func (f *Factory) Connect(ctx context.Context, cfg config.BrokerConfig, creds *config.Credentials) (brokers.Connection, error) {
	url, err := cfg.URLWithCredentials(creds)
	if err != nil {
		return nil, err
	}

	uri, err := amqp.ParseURI(url)
	if err != nil {
		return nil, errors.ConfigError("invalid AMQP url", err)
	}

	conn, err := brokers.DialWithRetry(ctx, BrokerType, f.Retry(cfg.ConnectRetries), func(ctx context.Context) (ConnectionInterface, error) {
		return f.Dial(url)
	})
	if err != nil {
		return nil, err
	}

	logging.Info("Connected to broker",
		logging.String("broker", BrokerType),
		logging.String("host", uri.Host),
		logging.String("vhost", uri.Vhost),
	)

	return NewConnection(conn, cfg.ShouldDeclareQueues()), nil
}

func init() {
	brokers.Register(NewFactory())
}
