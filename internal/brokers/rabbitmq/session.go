package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"queue-router/internal/brokers"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
)

// Session is a transacted channel. Deliveries fetched through its consumers stay
// unacknowledged until Commit.
type Session struct {
	name          string
	ch            ChannelInterface
	declareQueues bool
	declared      map[string]bool
	pending       []uint64
	logger        logging.Logger
}

func newSession(name string, ch ChannelInterface, declareQueues bool, logger logging.Logger) *Session {
	return &Session{
		name:          name,
		ch:            ch,
		declareQueues: declareQueues,
		declared:      make(map[string]bool),
		logger:        logger.WithFields(logging.String("session", name)),
	}
}

// Name implements brokers.Session
func (s *Session) Name() string {
	return s.name
}

// Consumer implements brokers.Session
func (s *Session) Consumer(queue string) (brokers.Consumer, error) {
	if err := s.declare(queue); err != nil {
		return nil, err
	}
	return &consumer{session: s, queue: queue}, nil
}

// Producer implements brokers.Session
func (s *Session) Producer(queue string) (brokers.Producer, error) {
	if err := s.declare(queue); err != nil {
		return nil, err
	}
	return &producer{session: s, queue: queue}, nil
}

// declare makes sure queue exists before it is used. Publishes go to the default
// exchange without the mandatory flag, so a missing output queue would drop messages
// unnoticed; without declareQueues the queue is checked passively instead, and a
// missing queue fails the worker at startup.
func (s *Session) declare(queue string) error {
	if s.declared[queue] {
		return nil
	}

	if s.declareQueues {
		if _, err := s.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return errors.ConnectionError("failed to declare queue", err).WithContext("queue", queue)
		}
	} else if _, err := s.ch.QueueDeclarePassive(queue, true, false, false, false, nil); err != nil {
		return errors.ConnectionError("queue does not exist", err).WithContext("queue", queue)
	}

	s.declared[queue] = true
	return nil
}

// Commit acknowledges every delivery received since the last settlement and commits
// them together with the pending publishes
func (s *Session) Commit(ctx context.Context) error {
	for _, tag := range s.pending {
		if err := s.ch.Ack(tag, false); err != nil {
			return errors.ConnectionError("failed to acknowledge delivery", err).WithContext("delivery_tag", tag)
		}
	}

	if err := s.ch.TxCommit(); err != nil {
		return errors.ConnectionError("failed to commit transaction", err).WithContext("session", s.name)
	}
	s.pending = s.pending[:0]
	return nil
}

// Rollback discards pending publishes and returns the received deliveries to their queue
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.ch.TxRollback(); err != nil {
		return errors.ConnectionError("failed to roll back transaction", err).WithContext("session", s.name)
	}

	if len(s.pending) == 0 {
		return nil
	}

	for _, tag := range s.pending {
		if err := s.ch.Nack(tag, false, true); err != nil {
			return errors.ConnectionError("failed to requeue delivery", err).WithContext("delivery_tag", tag)
		}
	}

	// the requeue is itself transactional on this channel
	if err := s.ch.TxCommit(); err != nil {
		return errors.ConnectionError("failed to commit requeue", err).WithContext("session", s.name)
	}
	s.pending = s.pending[:0]
	return nil
}

// Close closes the channel; unacknowledged deliveries are requeued by the broker
func (s *Session) Close() error {
	return s.ch.Close()
}

type consumer struct {
	session *Session
	queue   string
}

func (c *consumer) Queue() string {
	return c.queue
}

func (c *consumer) ReceiveNoWait(ctx context.Context) (*brokers.Message, error) {
	delivery, ok, err := c.session.ch.Get(c.queue, false)
	if err != nil {
		return nil, errors.ConnectionError("failed to get message", err).WithContext("queue", c.queue)
	}
	if !ok {
		return nil, nil
	}

	c.session.pending = append(c.session.pending, delivery.DeliveryTag)
	return fromDelivery(c.queue, delivery), nil
}

type producer struct {
	session *Session
	queue   string
}

func (p *producer) Queue() string {
	return p.queue
}

func (p *producer) Send(ctx context.Context, message *brokers.Message) error {
	err := p.session.ch.Publish("", p.queue, false, false, toPublishing(message))
	if err != nil {
		return errors.DeliveryError("failed to publish message", err).WithContext("queue", p.queue)
	}
	return nil
}

func fromDelivery(queue string, d amqp.Delivery) *brokers.Message {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = fmt.Sprint(v)
	}

	id := d.MessageId
	if id == "" {
		id = uuid.New().String()
	}

	timestamp := d.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return &brokers.Message{
		ID:          id,
		Queue:       queue,
		Body:        d.Body,
		ContentType: d.ContentType,
		Headers:     headers,
		Timestamp:   timestamp,
	}
}

func toPublishing(message *brokers.Message) amqp.Publishing {
	headers := make(amqp.Table, len(message.Headers))
	for k, v := range message.Headers {
		headers[k] = v
	}

	return amqp.Publishing{
		Headers:      headers,
		ContentType:  message.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    message.ID,
		Timestamp:    message.Timestamp,
		Body:         message.Body,
	}
}
