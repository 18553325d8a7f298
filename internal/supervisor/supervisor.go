// Package supervisor starts the route workers and runs the liveness coordinator that
// turns the death of any worker into a shutdown of the whole process.
package supervisor

import (
	"context"
	"sync"

	"queue-router/internal/brokers"
	"queue-router/internal/common/logging"
	"queue-router/internal/config"
	"queue-router/internal/state"
	"queue-router/internal/worker"
)

// Handle observes one running worker
type Handle struct {
	worker *worker.Worker
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newHandle(w *worker.Worker) *Handle {
	return &Handle{worker: w, done: make(chan struct{})}
}

// Name returns the worker's session name
func (h *Handle) Name() string {
	return h.worker.Name()
}

// InputQueue returns the queue the worker consumes
func (h *Handle) InputQueue() string {
	return h.worker.InputQueue()
}

// State returns the worker's lifecycle state
func (h *Handle) State() worker.State {
	return h.worker.State()
}

// Done is closed when the worker has returned
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Active reports whether the worker is still running
func (h *Handle) Active() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Err returns the worker's crash error once it is done
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) run(ctx context.Context) {
	err := h.worker.Run(ctx)

	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Supervisor spawns workerCount competing workers per route
type Supervisor struct {
	conn     brokers.Connection
	appState *state.ApplicationState
	metrics  worker.Metrics
	routes   []config.Route
	opts     []worker.Option
	logger   logging.Logger
}

// New creates a supervisor. opts are applied to every worker.
func New(conn brokers.Connection, appState *state.ApplicationState, metrics worker.Metrics, routes []config.Route, opts ...worker.Option) *Supervisor {
	return &Supervisor{
		conn:     conn,
		appState: appState,
		metrics:  metrics,
		routes:   routes,
		opts:     opts,
		logger:   logging.WithFields(logging.String("component", "supervisor")),
	}
}

// Start launches every worker and returns their handles
func (s *Supervisor) Start(ctx context.Context) []*Handle {
	var handles []*Handle
	for _, route := range s.routes {
		for i := 0; i < route.WorkerCount; i++ {
			handle := newHandle(worker.New(route, i, s.conn, s.appState, s.metrics, s.opts...))
			go handle.run(ctx)
			handles = append(handles, handle)
		}
		s.logger.Info("Listeners created",
			logging.String("inputQueue", route.InputQueue),
			logging.Int("workers", route.WorkerCount),
		)
	}
	return handles
}
