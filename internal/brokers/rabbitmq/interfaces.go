package rabbitmq

import (
	"github.com/streadway/amqp"
)

// ConnectionInterface abstracts the AMQP connection for testing
type ConnectionInterface interface {
	Channel() (ChannelInterface, error)
	IsClosed() bool
	Close() error
}

// ChannelInterface abstracts the AMQP channel operations a transacted session needs
type ChannelInterface interface {
	Tx() error
	TxCommit() error
	TxRollback() error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Publish(exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Close() error
}

// DialFunc opens an AMQP connection
type DialFunc func(url string) (ConnectionInterface, error)

// amqpConnection adapts *amqp.Connection, whose Channel returns a concrete type
type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (ChannelInterface, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

// Dial connects to an AMQP broker
func Dial(url string) (ConnectionInterface, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

// Ensure existing types implement interfaces
var _ ChannelInterface = (*amqp.Channel)(nil)
var _ ConnectionInterface = (*amqpConnection)(nil)
