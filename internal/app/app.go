package app

import (
	"context"

	"golang.org/x/sync/errgroup"
	"queue-router/internal/brokers"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
	"queue-router/internal/config"
	"queue-router/internal/handlers"
	"queue-router/internal/metrics"
	"queue-router/internal/server"
	"queue-router/internal/state"
	"queue-router/internal/supervisor"
	"queue-router/internal/worker"

	// broker transports register themselves with brokers.DefaultRegistry
	_ "queue-router/internal/brokers/rabbitmq"
	_ "queue-router/internal/brokers/redis"
)

// App holds all the application dependencies
type App struct {
	Config  *config.Config
	State   *state.ApplicationState
	Metrics *metrics.Metrics
	Broker  brokers.Connection
	Server  *server.Server
	Logger  logging.Logger

	registry    *brokers.Registry
	runtime     bool
	workerOpts  []worker.Option
	coordinator []supervisor.CoordinatorOption
}

// Option configures an App
type Option func(*App)

// WithBrokerRegistry connects through registry instead of the default one
func WithBrokerRegistry(registry *brokers.Registry) Option {
	return func(a *App) { a.registry = registry }
}

// WithRuntimeMetrics registers the go and process collectors
func WithRuntimeMetrics(enabled bool) Option {
	return func(a *App) { a.runtime = enabled }
}

// WithWorkerOptions applies opts to every route worker
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(a *App) { a.workerOpts = append(a.workerOpts, opts...) }
}

// WithCoordinatorOptions applies opts to the liveness coordinator
func WithCoordinatorOptions(opts ...supervisor.CoordinatorOption) Option {
	return func(a *App) { a.coordinator = append(a.coordinator, opts...) }
}

// New creates an application for cfg. Nothing is connected until Start.
func New(cfg *config.Config, opts ...Option) *App {
	a := &App{
		Config:   cfg,
		State:    state.NewApplicationState(),
		Logger:   logging.WithFields(logging.String("component", "app")),
		registry: brokers.DefaultRegistry,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.Metrics = metrics.New(metrics.Options{EnableRuntimeMetrics: a.runtime})
	return a
}

// Start connects to the broker and binds the HTTP port
func (a *App) Start(ctx context.Context) error {
	conn, err := a.registry.Connect(ctx, a.Config.Broker, a.Config.Credentials)
	if err != nil {
		return err
	}
	a.Broker = conn

	h := handlers.New(a.State, a.Metrics, a.Broker)
	a.Server = server.New(handlers.NewRouter(h), a.Config.HTTP.Port)
	if err := a.Server.Listen(); err != nil {
		a.closeBroker()
		return err
	}

	a.Logger.Info("Connected to broker",
		logging.String("broker", conn.Name()),
		logging.String("http_addr", a.Server.Addr()),
	)
	return nil
}

// Run starts the route workers and blocks until the process should exit. Cancelling
// ctx requests a clean shutdown and yields nil; a dead worker yields its error.
func (a *App) Run(ctx context.Context) error {
	if a.Broker == nil || a.Server == nil {
		return errors.InternalError("application not started", nil)
	}
	defer a.closeBroker()

	// In-flight deliveries are never interrupted; workers stop on the running flag.
	workerCtx := context.WithoutCancel(ctx)
	sup := supervisor.New(a.Broker, a.State, a.Metrics, a.Config.Routes, a.workerOpts...)
	handles := sup.Start(workerCtx)
	a.State.SetReady(true)

	a.Logger.Info("Queue router started",
		logging.Int("routes", len(a.Config.Routes)),
		logging.Int("workers", len(handles)),
	)

	coordinator := supervisor.NewCoordinator(a.State, handles, a.Server, a.Config.HTTP.ShutdownGrace, a.coordinator...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Server.Serve()
	})
	g.Go(func() error {
		return coordinator.Run(gctx)
	})

	err := g.Wait()
	if err != nil {
		// worker deaths are already logged by the coordinator
		if !errors.IsType(err, errors.ErrTypeWorker) {
			a.Logger.Error("Queue router stopped with error", err)
		}
		return err
	}

	a.Logger.Info("Queue router stopped")
	return nil
}

func (a *App) closeBroker() {
	if a.Broker == nil {
		return
	}
	if err := a.Broker.Close(); err != nil {
		a.Logger.Warn("Failed to close broker connection", logging.Err(err))
	}
}
