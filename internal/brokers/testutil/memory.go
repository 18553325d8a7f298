// Package testutil provides an in-memory transacted broker with fault injection and a
// contract suite every broker transport is expected to pass.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"queue-router/internal/brokers"
)

// Broker is an in-memory brokers.Connection. Queues are FIFO; sessions see the
// transactional semantics of the real transports.
type Broker struct {
	mu        sync.Mutex
	queues    map[string][]*brokers.Message
	sendErrs  map[string]error
	sendPanic map[string]interface{}
	recvErr   error
	commitErr error
	sessErr   error
	commits   int
	rollbacks int
	sessions  []string
	closed    bool
}

// NewBroker returns an empty broker
func NewBroker() *Broker {
	return &Broker{
		queues:    make(map[string][]*brokers.Message),
		sendErrs:  make(map[string]error),
		sendPanic: make(map[string]interface{}),
	}
}

// Put appends a message with the given body to queue
func (b *Broker) Put(queue string, body []byte) *brokers.Message {
	msg := &brokers.Message{
		ID:        uuid.New().String(),
		Queue:     queue,
		Body:      body,
		Headers:   map[string]string{},
		Timestamp: time.Now(),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = append(b.queues[queue], msg)
	return msg
}

// Messages returns a snapshot of the committed contents of queue
func (b *Broker) Messages(queue string) []*brokers.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*brokers.Message(nil), b.queues[queue]...)
}

// Len returns the committed length of queue
func (b *Broker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// FailSends makes every send to queue fail with err; nil clears it
func (b *Broker) FailSends(queue string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.sendErrs, queue)
		return
	}
	b.sendErrs[queue] = err
}

// PanicOnSend makes every send to queue panic with value
func (b *Broker) PanicOnSend(queue string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendPanic[queue] = value
}

// FailReceives makes every receive fail with err; nil clears it
func (b *Broker) FailReceives(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recvErr = err
}

// FailCommits makes every commit fail with err; nil clears it
func (b *Broker) FailCommits(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commitErr = err
}

// FailSessions makes NewSession fail with err; nil clears it
func (b *Broker) FailSessions(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessErr = err
}

// Commits counts successful commits that settled at least one operation
func (b *Broker) Commits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commits
}

// Rollbacks counts rollbacks
func (b *Broker) Rollbacks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rollbacks
}

// Sessions lists the names of all sessions opened so far
func (b *Broker) Sessions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sessions...)
}

// Name implements brokers.Connection
func (b *Broker) Name() string {
	return "memory"
}

// NewSession implements brokers.Connection
func (b *Broker) NewSession(ctx context.Context, name string) (brokers.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("broker closed")
	}
	if b.sessErr != nil {
		return nil, b.sessErr
	}
	b.sessions = append(b.sessions, name)
	return &session{broker: b, name: name}, nil
}

// Health implements brokers.Connection
func (b *Broker) Health(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("broker closed")
	}
	return nil
}

// Close implements brokers.Connection
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type session struct {
	broker   *Broker
	name     string
	received []*brokers.Message
	staged   []*brokers.Message
}

func (s *session) Name() string { return s.name }

func (s *session) Consumer(queue string) (brokers.Consumer, error) {
	return &consumer{session: s, queue: queue}, nil
}

func (s *session) Producer(queue string) (brokers.Producer, error) {
	return &producer{session: s, queue: queue}, nil
}

func (s *session) Commit(ctx context.Context) error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.commitErr != nil {
		return b.commitErr
	}
	if len(s.received) == 0 && len(s.staged) == 0 {
		return nil
	}

	for _, msg := range s.staged {
		b.queues[msg.Queue] = append(b.queues[msg.Queue], msg)
	}
	b.commits++
	s.received = nil
	s.staged = nil
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(s.received) - 1; i >= 0; i-- {
		msg := s.received[i]
		b.queues[msg.Queue] = append([]*brokers.Message{msg}, b.queues[msg.Queue]...)
	}
	b.rollbacks++
	s.received = nil
	s.staged = nil
	return nil
}

func (s *session) Close() error {
	if len(s.received) > 0 {
		return s.Rollback(context.Background())
	}
	return nil
}

type consumer struct {
	session *session
	queue   string
}

func (c *consumer) Queue() string { return c.queue }

func (c *consumer) ReceiveNoWait(ctx context.Context) (*brokers.Message, error) {
	b := c.session.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.recvErr != nil {
		return nil, b.recvErr
	}

	pending := b.queues[c.queue]
	if len(pending) == 0 {
		return nil, nil
	}

	msg := pending[0]
	b.queues[c.queue] = pending[1:]
	c.session.received = append(c.session.received, msg)
	return msg, nil
}

type producer struct {
	session *session
	queue   string
}

func (p *producer) Queue() string { return p.queue }

func (p *producer) Send(ctx context.Context, message *brokers.Message) error {
	b := p.session.broker
	b.mu.Lock()
	value, panics := b.sendPanic[p.queue]
	err := b.sendErrs[p.queue]
	b.mu.Unlock()

	if panics {
		panic(value)
	}
	if err != nil {
		return err
	}

	out := message.Forward()
	out.Queue = p.queue
	p.session.staged = append(p.session.staged, out)
	return nil
}
