// Package brokers defines the transacted messaging boundary the router runs on.
//
// A Connection hands out Sessions. Each route worker owns exactly one Session, and
// everything it receives and sends through that session becomes visible to other
// clients only when the session commits. Rollback returns received messages to
// their queue and discards pending sends.
package brokers

import (
	"context"
	"time"
)

// Connection is a live broker connection shared by all sessions
type Connection interface {
	// Name identifies the broker type, e.g. "rabbitmq"
	Name() string
	// NewSession opens a transacted session owned by a single worker
	NewSession(ctx context.Context, name string) (Session, error)
	Health(ctx context.Context) error
	Close() error
}

// Session is a transacted unit of work. It is not safe for concurrent use.
type Session interface {
	Name() string
	Consumer(queue string) (Consumer, error)
	Producer(queue string) (Producer, error)
	// Commit makes every receive and send since the last commit or rollback durable
	Commit(ctx context.Context) error
	// Rollback requeues received messages and discards pending sends
	Rollback(ctx context.Context) error
	Close() error
}

// Consumer reads from one queue inside its session
type Consumer interface {
	Queue() string
	// ReceiveNoWait returns the next message, or nil without error when the queue is empty
	ReceiveNoWait(ctx context.Context) (*Message, error)
}

// Producer writes to one queue inside its session
type Producer interface {
	Queue() string
	Send(ctx context.Context, message *Message) error
}

// Message is an opaque payload plus transport metadata
type Message struct {
	ID          string
	Queue       string
	Body        []byte
	ContentType string
	Headers     map[string]string
	Timestamp   time.Time
}

// Forward returns a copy of m for sending to another queue. The body is shared.
func (m *Message) Forward() *Message {
	headers := make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		headers[k] = v
	}
	return &Message{
		ID:          m.ID,
		Queue:       m.Queue,
		Body:        m.Body,
		ContentType: m.ContentType,
		Headers:     headers,
		Timestamp:   m.Timestamp,
	}
}
