// Package delivery sends one message to its selected outputs inside a single broker
// transaction and decides, per output, whether a failed send is tolerated or aborts the unit.
package delivery

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"queue-router/internal/brokers"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
	"queue-router/internal/routing"
)

// DefaultFailureBackoff is the pause before rolling back after a fatal send failure
const DefaultFailureBackoff = time.Second

// Counter records committed deliveries
type Counter interface {
	IncDelivered(inputQueue, outputQueue string)
}

// FatalError is returned when a send to a failOnException output failed. The
// transaction has been rolled back by the time the caller sees it.
type FatalError struct {
	InputQueue  string
	OutputQueue string
	Cause       error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("failed to route message from %s to %s: %v", e.InputQueue, e.OutputQueue, e.Cause)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether err carries a FatalError
func IsFatal(err error) bool {
	var fatal *FatalError
	return stderrors.As(err, &fatal)
}

// Unit delivers messages for one worker. It owns the worker's session and producers.
type Unit struct {
	inputQueue string
	session    brokers.Session
	producers  map[string]brokers.Producer
	counter    Counter
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration)
	logger     logging.Logger
}

// Option configures a Unit
type Option func(*Unit)

// WithBackoff overrides the pause before rollback
func WithBackoff(d time.Duration) Option {
	return func(u *Unit) { u.backoff = d }
}

// WithLogger overrides the logger
func WithLogger(logger logging.Logger) Option {
	return func(u *Unit) { u.logger = logger }
}

// NewUnit creates a delivery unit. producers is keyed by output queue name.
func NewUnit(inputQueue string, session brokers.Session, producers map[string]brokers.Producer, counter Counter, opts ...Option) *Unit {
	u := &Unit{
		inputQueue: inputQueue,
		session:    session,
		producers:  producers,
		counter:    counter,
		backoff:    DefaultFailureBackoff,
		sleep:      sleepContext,
		logger:     logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Deliver sends msg to the outcome's group, then to its ALL outputs, and commits.
// Counters are only incremented once the commit succeeded.
func (u *Unit) Deliver(ctx context.Context, msg *brokers.Message, outcome *routing.Outcome) error {
	delivered := make([]string, 0, len(outcome.Group)+len(outcome.All))

	groupMessage := "No matches found for input queue, routing to remainder outputs"
	if outcome.Matched {
		groupMessage = "Message from input queue was matched with output queues"
	}

	if err := u.sendAll(ctx, msg, outcome, outcome.Group, groupMessage, &delivered); err != nil {
		return err
	}
	if err := u.sendAll(ctx, msg, outcome, outcome.All, "Message was routed from input queue to output queues", &delivered); err != nil {
		return err
	}

	if err := u.session.Commit(ctx); err != nil {
		u.rollback(ctx)
		return errors.DeliveryError("failed to commit delivery unit", err).WithContext("inputQueue", u.inputQueue)
	}

	for _, outputQueue := range delivered {
		u.counter.IncDelivered(u.inputQueue, outputQueue)
	}
	return nil
}

func (u *Unit) sendAll(ctx context.Context, msg *brokers.Message, outcome *routing.Outcome, targets []*routing.Target, logMessage string, delivered *[]string) error {
	if len(targets) == 0 {
		return nil
	}

	fields := append([]logging.Field{
		logging.String("inputQueue", u.inputQueue),
		logging.Joined("outputQueues", names(targets)),
	}, outcome.LogFields()...)
	u.logger.Info(logMessage, fields...)

	for _, target := range targets {
		err := u.send(ctx, msg, target)
		if err == nil {
			*delivered = append(*delivered, target.Name)
			continue
		}

		fields := append([]logging.Field{
			logging.String("inputQueue", u.inputQueue),
			logging.String("outputQueue", target.Name),
		}, outcome.LogFields()...)

		if !target.FailOnException {
			u.logger.Error("Exception caught, failed to route message", err, fields...)
			continue
		}

		u.logger.Error("Failed to route message, rolling back transaction", err, fields...)
		u.sleep(ctx, u.backoff)
		u.rollback(ctx)
		return &FatalError{InputQueue: u.inputQueue, OutputQueue: target.Name, Cause: err}
	}
	return nil
}

func (u *Unit) send(ctx context.Context, msg *brokers.Message, target *routing.Target) error {
	producer, ok := u.producers[target.Name]
	if !ok {
		return errors.InternalError("no producer bound to output queue", nil).WithContext("outputQueue", target.Name)
	}
	return producer.Send(ctx, msg.Forward())
}

func (u *Unit) rollback(ctx context.Context) {
	if err := u.session.Rollback(ctx); err != nil {
		u.logger.Error("Rollback failed", err, logging.String("inputQueue", u.inputQueue))
	}
}

func names(targets []*routing.Target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.Name
	}
	return out
}
