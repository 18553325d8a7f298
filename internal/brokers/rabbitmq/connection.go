// Package rabbitmq provides the AMQP 0-9-1 transport. Every session runs on its own
// channel in transaction mode: messages are fetched with basic.get without auto-ack,
// and acknowledgements and publishes only take effect on commit.
package rabbitmq

import (
	"context"
	"sync"

	"queue-router/internal/brokers"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
)

// Connection is one AMQP connection multiplexing the sessions of all workers
type Connection struct {
	conn          ConnectionInterface
	declareQueues bool
	logger        logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewConnection wraps an established AMQP connection
func NewConnection(conn ConnectionInterface, declareQueues bool) *Connection {
	return &Connection{
		conn:          conn,
		declareQueues: declareQueues,
		logger: logging.WithFields(
			logging.String("component", "rabbitmq"),
		),
	}
}

// Name implements brokers.Connection
func (c *Connection) Name() string {
	return BrokerType
}

// NewSession opens a channel and switches it to transaction mode
func (c *Connection) NewSession(ctx context.Context, name string) (brokers.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.ConnectionError("rabbitmq connection is closed", nil)
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.ConnectionError("failed to open channel", err).WithContext("session", name)
	}

	if err := ch.Tx(); err != nil {
		ch.Close()
		return nil, errors.ConnectionError("failed to enable channel transactions", err).WithContext("session", name)
	}

	c.logger.Debug("Opened transacted channel", logging.String("session", name))

	return newSession(name, ch, c.declareQueues, c.logger), nil
}

// Health reports whether the underlying connection is open
func (c *Connection) Health(ctx context.Context) error {
	if c.conn.IsClosed() {
		return errors.ConnectionError("rabbitmq connection is closed", nil)
	}
	return nil
}

// Close closes the connection and with it every channel
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
