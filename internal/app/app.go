package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/taskgridgo/internal/config"
	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/engine"
	"github.com/vk/taskgridgo/internal/params"
	"github.com/vk/taskgridgo/internal/sched"
	"github.com/vk/taskgridgo/internal/state"
	"github.com/vk/taskgridgo/internal/state/memstore"
	"github.com/vk/taskgridgo/internal/state/pgstore"
	"github.com/vk/taskgridgo/internal/task"
)

// App encapsulates the worker's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	registry   *task.Registry
	engine     *engine.Engine
	parameters map[string]any
	closer     io.Closer
}

// NewApp is the constructor for the worker. It returns a fully initialized
// App instance, including its own isolated logger, stores and engine. The
// registry carries the embedding program's task registrations.
func NewApp(outW io.Writer, appConfig *Config, registry *task.Registry) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	workerCfg := config.Default()
	if appConfig.ConfigPath != "" {
		loaded, err := config.Load(ctx, appConfig.ConfigPath)
		if err != nil {
			// A failure to load config is a fatal startup error.
			panic(fmt.Errorf("failed to load configuration: %w", err))
		}
		workerCfg = loaded
	}

	parameters := workerCfg.Parameters
	if appConfig.ParamsPath != "" {
		fileParams, err := params.Load(appConfig.ParamsPath)
		if err != nil {
			panic(fmt.Errorf("failed to load parameters: %w", err))
		}
		parameters = params.Merge(parameters, fileParams)
	}
	logger.Debug("Job parameters resolved.", "count", len(parameters))

	store, jobs, closer, err := openStores(ctx, workerCfg)
	if err != nil {
		panic(fmt.Errorf("failed to open state store: %w", err))
	}
	logger.Debug("State store ready.", "backend", workerCfg.Store.Backend)

	opts := &engine.Options{LockTimeout: workerCfg.Defaults.LockTimeout}
	if workerCfg.Defaults.Interval > 0 {
		opts.DefaultScheduler = sched.Interval{Every: workerCfg.Defaults.Interval}
	}

	return &App{
		outW:       outW,
		logger:     logger,
		registry:   registry,
		engine:     engine.New(registry, store, jobs, opts),
		parameters: parameters,
		closer:     closer,
	}
}

// openStores builds the state store pair selected by the worker config. The
// returned closer is nil for backends without a connection to release.
func openStores(ctx context.Context, cfg *config.Config) (state.Store, state.JobStore, io.Closer, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		mem := memstore.New()
		return mem, mem, nil, nil
	case config.BackendPostgres:
		pg, err := pgstore.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, nil, err
		}
		return pg, pg, pg, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Engine returns the application's engine. This is primarily for testing.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Close releases the state store connection, if the backend holds one.
func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
