package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"queue-router/internal/common/logging"
	"queue-router/internal/config"
)

// RunOptions are the command line overrides of the environment
type RunOptions struct {
	ConfigFile      string
	CredentialsFile string
	Port            int
	Version         string
}

// Run is the main entry point for the application
func Run(opts RunOptions) error {
	// Load environment variables
	_ = godotenv.Load()

	if err := logging.InitGlobalLogger(); err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting queue router",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("version", opts.Version),
	)

	paths := config.PathsFromEnv()
	if opts.ConfigFile != "" {
		paths.ConfigFile = opts.ConfigFile
	}
	if opts.CredentialsFile != "" {
		paths.CredentialsFile = opts.CredentialsFile
	}

	cfg, err := config.Load(paths)
	if err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}
	if opts.Port > 0 {
		cfg.HTTP.Port = opts.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := New(cfg, WithRuntimeMetrics(true))
	if err := app.Start(ctx); err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}

	return app.Run(ctx)
}
