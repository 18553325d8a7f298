package supervisor

import (
	"context"
	"time"

	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
	"queue-router/internal/state"
)

// DefaultLivenessInterval is how often worker handles are checked
const DefaultLivenessInterval = 100 * time.Millisecond

// Shutdowner is the HTTP surface stopped after the workers
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Coordinator watches worker handles. It never restarts a worker: any worker that
// terminates while the application is running stops the whole process.
type Coordinator struct {
	appState *state.ApplicationState
	handles  []*Handle
	http     Shutdowner
	interval time.Duration
	grace    time.Duration
	logger   logging.Logger
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithInterval overrides the liveness poll interval
func WithInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.interval = d }
}

// WithCoordinatorLogger overrides the logger
func WithCoordinatorLogger(logger logging.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator creates a coordinator. http may be nil; grace bounds both the wait
// for workers and the HTTP shutdown.
func NewCoordinator(appState *state.ApplicationState, handles []*Handle, http Shutdowner, grace time.Duration, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		appState: appState,
		handles:  handles,
		http:     http,
		interval: DefaultLivenessInterval,
		grace:    grace,
		logger:   logging.WithFields(logging.String("component", "coordinator")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run blocks until the application stops. Cancelling ctx is an explicit shutdown
// request and yields nil; a dead worker yields a worker error.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var died *Handle
	for died == nil && c.appState.Running() {
		select {
		case <-ctx.Done():
			if c.appState.Shutdown() {
				c.logger.Info("Shutdown requested, stopping route workers")
			}
		case <-ticker.C:
			died = c.firstDead()
		}
	}

	var result error
	if died != nil {
		c.appState.Shutdown()
		c.logger.Error("One worker seems to have died, shutting down.", died.Err(),
			logging.String("worker", died.Name()),
			logging.String("inputQueue", died.InputQueue()),
		)
		result = errors.WorkerError("route worker died", died.Err()).
			WithContext("worker", died.Name()).
			WithContext("inputQueue", died.InputQueue())
	}

	c.waitForWorkers()
	c.shutdownHTTP()
	return result
}

func (c *Coordinator) firstDead() *Handle {
	for _, h := range c.handles {
		if !h.Active() {
			return h
		}
	}
	return nil
}

func (c *Coordinator) waitForWorkers() {
	deadline := time.NewTimer(c.grace)
	defer deadline.Stop()

	for _, h := range c.handles {
		select {
		case <-h.Done():
		case <-deadline.C:
			c.logger.Warn("Route workers did not stop within the grace period",
				logging.Duration("grace", c.grace))
			return
		}
	}
	c.logger.Info("All route workers stopped", logging.Int("workers", len(c.handles)))
}

func (c *Coordinator) shutdownHTTP() {
	if c.http == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.grace)
	defer cancel()

	if err := c.http.Shutdown(ctx); err != nil {
		c.logger.Error("HTTP server shutdown failed", err)
	}
}
