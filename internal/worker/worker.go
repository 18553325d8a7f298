// Package worker implements the route worker: a long-lived loop that owns one broker
// session, polls its route's input queue and hands every message to the routing engine
// and the delivery unit, one message at a time.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"queue-router/internal/brokers"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
	"queue-router/internal/config"
	"queue-router/internal/delivery"
	"queue-router/internal/routing"
	"queue-router/internal/state"
)

// DefaultPollInterval is the pause after an empty receive
const DefaultPollInterval = 100 * time.Millisecond

// State is the lifecycle position of a worker
type State int32

const (
	Starting State = iota
	Polling
	Processing
	Stopped
	Crashed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Polling:
		return "polling"
	case Processing:
		return "processing"
	case Stopped:
		return "stopped"
	case Crashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Metrics is what a worker records per message
type Metrics interface {
	delivery.Counter
	ObserveRoute(inputQueue string, d time.Duration)
}

// Worker consumes one route's input queue
type Worker struct {
	route          config.Route
	name           string
	conn           brokers.Connection
	appState       *state.ApplicationState
	metrics        Metrics
	pollInterval   time.Duration
	failureBackoff time.Duration
	logger         logging.Logger
	state          atomic.Int32
}

// Option configures a Worker
type Option func(*Worker)

// WithPollInterval overrides the pause after an empty receive
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

// WithFailureBackoff overrides the pause before rollback after a fatal send failure
func WithFailureBackoff(d time.Duration) Option {
	return func(w *Worker) { w.failureBackoff = d }
}

// WithLogger overrides the logger
func WithLogger(logger logging.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// SessionName names the index-th worker session of a route. Names are stable across
// restarts so transports can recover a crashed session's in-flight messages.
func SessionName(inputQueue string, index int) string {
	return fmt.Sprintf("%s-%d", inputQueue, index)
}

// New creates the index-th worker of route
func New(route config.Route, index int, conn brokers.Connection, appState *state.ApplicationState, metrics Metrics, opts ...Option) *Worker {
	w := &Worker{
		route:          route,
		name:           SessionName(route.InputQueue, index),
		conn:           conn,
		appState:       appState,
		metrics:        metrics,
		pollInterval:   DefaultPollInterval,
		failureBackoff: delivery.DefaultFailureBackoff,
		logger:         logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithFields(logging.String("worker", w.name))
	return w
}

// Name returns the worker's session name
func (w *Worker) Name() string {
	return w.name
}

// InputQueue returns the queue the worker consumes
func (w *Worker) InputQueue() string {
	return w.route.InputQueue
}

// State returns the current lifecycle state
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run blocks until the application stops running (nil) or the worker crashes (error).
// A fatal delivery failure, a broker error and a panic all crash the worker.
func (w *Worker) Run(ctx context.Context) (err error) {
	w.setState(Starting)

	defer func() {
		if r := recover(); r != nil {
			err = errors.WorkerError("route worker panicked", fmt.Errorf("%v", r)).
				WithContext("worker", w.name)
			w.logger.Error("Route worker panicked", err, logging.String("stack_trace", string(debug.Stack())))
		}
		if err != nil {
			w.setState(Crashed)
		}
	}()

	engine, err := routing.NewEngine(w.route)
	if err != nil {
		return w.crash("failed to build routing engine", err)
	}

	session, err := w.conn.NewSession(ctx, w.name)
	if err != nil {
		return w.crash("failed to open session", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			w.logger.Warn("Failed to close session", logging.Err(closeErr))
		}
	}()

	consumer, err := session.Consumer(w.route.InputQueue)
	if err != nil {
		return w.crash("failed to create consumer", err)
	}

	producers := make(map[string]brokers.Producer, len(engine.Targets()))
	for _, target := range engine.Targets() {
		producer, err := session.Producer(target.Name)
		if err != nil {
			return w.crash("failed to create producer", err)
		}
		producers[target.Name] = producer
	}

	unit := delivery.NewUnit(w.route.InputQueue, session, producers, w.metrics,
		delivery.WithBackoff(w.failureBackoff),
		delivery.WithLogger(w.logger),
	)

	w.logger.Info("Route initialized",
		logging.String("inputQueue", w.route.InputQueue),
		logging.Joined("outputQueues", w.route.OutputNames()),
	)

	for w.appState.Running() {
		w.setState(Polling)

		msg, err := consumer.ReceiveNoWait(ctx)
		if err != nil {
			return w.crash("failed to receive message", err)
		}
		if msg == nil {
			time.Sleep(w.pollInterval)
			continue
		}

		w.setState(Processing)
		if err := w.process(ctx, engine, unit, msg); err != nil {
			return w.crash("failed to deliver message", err)
		}
	}

	w.setState(Stopped)
	w.logger.Info("Route worker stopped", logging.String("inputQueue", w.route.InputQueue))
	return nil
}

func (w *Worker) process(ctx context.Context, engine *routing.Engine, unit *delivery.Unit, msg *brokers.Message) error {
	start := time.Now()
	defer func() {
		w.metrics.ObserveRoute(w.route.InputQueue, time.Since(start))
	}()

	logger := w.logger.WithContext(context.WithValue(ctx, logging.MessageIDKey, msg.ID))

	outcome := engine.Decide(msg.Body)
	if outcome.ParseErr != nil {
		logger.Error("Caught exception while trying to match message content", outcome.ParseErr,
			logging.String("inputQueue", w.route.InputQueue))
	}
	for _, extractErr := range outcome.ExtractErrs {
		logger.Error("Caught exception while evaluating extractor", extractErr,
			logging.String("inputQueue", w.route.InputQueue))
	}

	logger.Info("Received message, routing to outputs",
		logging.String("inputQueue", w.route.InputQueue),
		logging.Joined("outputQueues", w.route.OutputNames()),
	)

	return unit.Deliver(ctx, msg, outcome)
}

func (w *Worker) crash(msg string, cause error) error {
	return errors.WorkerError(msg, cause).
		WithContext("worker", w.name).
		WithContext("inputQueue", w.route.InputQueue)
}
