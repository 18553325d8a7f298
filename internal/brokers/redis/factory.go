package redis

import (
	"context"

	"github.com/go-redis/redis/v8"
	"queue-router/internal/brokers"
	"queue-router/internal/common/logging"
	"queue-router/internal/config"
)

const BrokerType = "redis"

// Factory connects to a Redis server with retry
type Factory struct {
	Retry func(maxTries int) brokers.RetryPolicy
}

// NewFactory returns a factory with the default retry policy
func NewFactory() *Factory {
	return &Factory{Retry: brokers.DefaultRetryPolicy}
}

// Type implements brokers.Factory
func (f *Factory) Type() string {
	return BrokerType
}

// Connect implements brokers.Factory
func (f *Factory) Connect(ctx context.Context, cfg config.BrokerConfig, creds *config.Credentials) (brokers.Connection, error) {
	options := &redis.Options{
		Addr:     cfg.Address,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if creds != nil {
		options.Username = creds.Username
		options.Password = creds.Password
	}

	client, err := brokers.DialWithRetry(ctx, BrokerType, f.Retry(cfg.ConnectRetries), func(ctx context.Context) (*redis.Client, error) {
		client := redis.NewClient(options)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, err
		}
		return client, nil
	})
	if err != nil {
		return nil, err
	}

	logging.Info("Connected to broker",
		logging.String("broker", BrokerType),
		logging.String("address", cfg.Address),
		logging.Int("db", cfg.DB),
	)

	return NewConnection(client), nil
}

func init() {
	brokers.Register(NewFactory())
}
