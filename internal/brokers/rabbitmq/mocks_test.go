package rabbitmq_test

import (
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"queue-router/internal/brokers/rabbitmq"
)

// MockConnection implements ConnectionInterface for testing
type MockConnection struct {
	channels        []*MockChannel
	closed          bool
	channelError    error
	newChannelQueue map[string][]amqp.Delivery
	mu              sync.Mutex
}

func NewMockConnection() *MockConnection {
	return &MockConnection{newChannelQueue: make(map[string][]amqp.Delivery)}
}

func (m *MockConnection) Channel() (rabbitmq.ChannelInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channelError != nil {
		return nil, m.channelError
	}

	ch := NewMockChannel()
	for queue, deliveries := range m.newChannelQueue {
		ch.queues[queue] = append(ch.queues[queue], deliveries...)
	}
	m.channels = append(m.channels, ch)
	return ch, nil
}

func (m *MockConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockConnection) Channels() []*MockChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockChannel(nil), m.channels...)
}

// PublishedMessage captures one Publish call
type PublishedMessage struct {
	Exchange   string
	RoutingKey string
	Publishing amqp.Publishing
}

// MockChannel implements ChannelInterface and records every call in order
type MockChannel struct {
	queues    map[string][]amqp.Delivery
	published []PublishedMessage
	declared  []string
	checked   []string
	missing   map[string]bool
	calls     []string
	nextTag   uint64
	txMode    bool
	closed    bool

	publishError error
	getError     error
	commitError  error
	declareError error
	mu           sync.Mutex
}

func NewMockChannel() *MockChannel {
	return &MockChannel{queues: make(map[string][]amqp.Delivery)}
}

func (m *MockChannel) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *MockChannel) Tx() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txMode = true
	m.record("tx.select")
	return nil
}

func (m *MockChannel) TxCommit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("tx.commit")
	return m.commitError
}

func (m *MockChannel) TxRollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("tx.rollback")
	return nil
}

func (m *MockChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getError != nil {
		return amqp.Delivery{}, false, m.getError
	}
	if autoAck {
		return amqp.Delivery{}, false, fmt.Errorf("auto-ack not expected")
	}

	pending := m.queues[queue]
	if len(pending) == 0 {
		return amqp.Delivery{}, false, nil
	}

	delivery := pending[0]
	m.queues[queue] = pending[1:]
	m.nextTag++
	delivery.DeliveryTag = m.nextTag
	m.record(fmt.Sprintf("get %s", queue))
	return delivery, true, nil
}

func (m *MockChannel) Publish(exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.published = append(m.published, PublishedMessage{Exchange: exchange, RoutingKey: routingKey, Publishing: msg})
	m.record(fmt.Sprintf("publish %s", routingKey))
	return nil
}

func (m *MockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.declareError != nil {
		return amqp.Queue{}, m.declareError
	}
	m.declared = append(m.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (m *MockChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.missing[name] {
		return amqp.Queue{}, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + name + "'"}
	}
	m.checked = append(m.checked, name)
	return amqp.Queue{Name: name, Messages: len(m.queues[name])}, nil
}

func (m *MockChannel) Ack(tag uint64, multiple bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(fmt.Sprintf("ack %d", tag))
	return nil
}

func (m *MockChannel) Nack(tag uint64, multiple, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(fmt.Sprintf("nack %d requeue=%t", tag, requeue))
	return nil
}

func (m *MockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockChannel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockChannel) Published() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedMessage(nil), m.published...)
}

func (m *MockChannel) Declared() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.declared...)
}

// Checked returns the queues verified with a passive declare
func (m *MockChannel) Checked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.checked...)
}

// MarkMissing makes passive declares of queue fail
func (m *MockChannel) MarkMissing(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing == nil {
		m.missing = make(map[string]bool)
	}
	m.missing[queue] = true
}

func (m *MockChannel) Enqueue(queue string, delivery amqp.Delivery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queue] = append(m.queues[queue], delivery)
}
