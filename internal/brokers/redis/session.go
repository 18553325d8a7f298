package redis

import (
	"context"
	stderrors "errors"

	"github.com/go-redis/redis/v8"
	"queue-router/internal/brokers"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
)

// ProcessingKey returns the list holding the session's in-flight items of queue
func ProcessingKey(queue, session string) string {
	return queue + ":processing:" + session
}

type received struct {
	queue      string
	processing string
	raw        string
}

type staged struct {
	queue string
	data  []byte
}

// Session is not safe for concurrent use
type Session struct {
	name     string
	conn     *Connection
	client   *redis.Client
	claims   []string
	received []received
	staged   []staged
	logger   logging.Logger
}

// Name implements brokers.Session
func (s *Session) Name() string {
	return s.name
}

// Consumer returns items a previous process left in processing lists of queue
// before handing out the consumer
func (s *Session) Consumer(queue string) (brokers.Consumer, error) {
	processing := ProcessingKey(queue, s.name)

	recovered, err := s.conn.claim(context.Background(), queue, processing)
	s.claims = append(s.claims, processing)
	if err != nil {
		return nil, errors.ConnectionError("failed to recover in-flight messages", err).WithContext("queue", queue)
	}
	if recovered > 0 {
		s.logger.Warn("Recovered in-flight messages",
			logging.String("queue", queue),
			logging.Int("count", recovered),
		)
	}

	return &consumer{session: s, queue: queue, processing: processing}, nil
}

// Producer implements brokers.Session
func (s *Session) Producer(queue string) (brokers.Producer, error) {
	return &producer{session: s, queue: queue}, nil
}

// Commit pushes staged sends and drops received items atomically
func (s *Session) Commit(ctx context.Context) error {
	if len(s.received) == 0 && len(s.staged) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, send := range s.staged {
			pipe.LPush(ctx, send.queue, send.data)
		}
		for _, item := range s.received {
			pipe.LRem(ctx, item.processing, 1, item.raw)
		}
		return nil
	})
	if err != nil {
		return errors.ConnectionError("failed to commit transaction", err).WithContext("session", s.name)
	}

	s.reset()
	return nil
}

// Rollback discards staged sends and returns received items to the consuming end of their queue
func (s *Session) Rollback(ctx context.Context) error {
	s.staged = s.staged[:0]
	if len(s.received) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := len(s.received) - 1; i >= 0; i-- {
			item := s.received[i]
			pipe.LRem(ctx, item.processing, 1, item.raw)
			pipe.RPush(ctx, item.queue, item.raw)
		}
		return nil
	})
	if err != nil {
		return errors.ConnectionError("failed to roll back transaction", err).WithContext("session", s.name)
	}

	s.reset()
	return nil
}

func (s *Session) reset() {
	s.received = s.received[:0]
	s.staged = s.staged[:0]
}

// Close leaves uncommitted items in the processing list for recovery
func (s *Session) Close() error {
	if len(s.received) > 0 {
		s.logger.Warn("Closing session with uncommitted messages", logging.Int("count", len(s.received)))
	}
	for _, processing := range s.claims {
		s.conn.release(processing)
	}
	s.claims = nil
	return nil
}

type consumer struct {
	session    *Session
	queue      string
	processing string
}

func (c *consumer) Queue() string {
	return c.queue
}

func (c *consumer) ReceiveNoWait(ctx context.Context) (*brokers.Message, error) {
	raw, err := c.session.client.RPopLPush(ctx, c.queue, c.processing).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.ConnectionError("failed to receive message", err).WithContext("queue", c.queue)
	}

	c.session.received = append(c.session.received, received{queue: c.queue, processing: c.processing, raw: raw})
	return decode(c.queue, raw), nil
}

type producer struct {
	session *Session
	queue   string
}

func (p *producer) Queue() string {
	return p.queue
}

// Send stages the message; it is pushed on commit
func (p *producer) Send(ctx context.Context, message *brokers.Message) error {
	data, err := encode(message)
	if err != nil {
		return errors.DeliveryError("failed to encode message", err).WithContext("queue", p.queue)
	}
	p.session.staged = append(p.session.staged, staged{queue: p.queue, data: data})
	return nil
}
