// Package app wires the router together: configuration sources, the pool
// tracker, the dispatcher, the outcome event stream and both listeners.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"traffic-router/internal/common/logging"
	"traffic-router/internal/config"
	"traffic-router/internal/dispatch"
	"traffic-router/internal/events"
	"traffic-router/internal/pool"
	"traffic-router/internal/redis"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Store       *config.Store
	Tracker     *pool.Tracker
	Dispatcher  *dispatch.Dispatcher
	Bus         *events.Bus
	Emitter     *events.Emitter
	RedisClient *redis.Client
	Watcher     *config.FileWatcher
	RedisSource *config.RedisSource
	Logger      logging.Logger
}

// New creates the application and loads the initial routing document. It
// fails when no document can be loaded from any configured source.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.Component("app"),
	}

	if err := app.initializeRedis(); err != nil {
		return nil, err
	}
	app.initializeCore()

	if err := app.initializeSources(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeEvents(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}
	return app, nil
}

func (app *App) initializeCore() {
	app.Store = config.NewStore()
	app.Tracker = pool.NewTracker(pool.WithProbeSettings(app.Store.ProbeSettings))
	app.Bus = events.NewBus()
	app.Dispatcher = dispatch.New(app.Store, app.Tracker, dispatch.WithEvents(app.Bus))
	app.Store.Subscribe(app.reconcile)
}

// reconcile brings the config-origin endpoints in line with snap
func (app *App) reconcile(snap *config.Snapshot) {
	added, removed, err := app.Tracker.Reconcile(snap.Registrations())
	if err != nil {
		app.Logger.Error("Endpoint reconciliation incomplete", err,
			logging.Int64("config_version", int64(snap.Version)),
		)
	}
	app.Dispatcher.Balancer().Forget(app.Tracker.Snapshot())
	if added > 0 || removed > 0 {
		app.Logger.Info("Endpoints reconciled",
			logging.Int64("config_version", int64(snap.Version)),
			logging.Int("added", added),
			logging.Int("removed", removed),
		)
	}
}

func (app *App) initializeSources(ctx context.Context) error {
	cfg := app.Config

	if cfg.RoutingConfigFile != "" {
		path, err := filepath.Abs(cfg.RoutingConfigFile)
		if err != nil {
			return fmt.Errorf("resolve ROUTING_CONFIG_FILE: %w", err)
		}
		app.Watcher = config.NewFileWatcher(path, app.Store, config.DefaultDebounce)

		if _, err := app.Watcher.Load(); err != nil {
			if !stderrors.Is(err, fs.ErrNotExist) || cfg.RedisConfigKey == "" {
				return err
			}
			app.Logger.Warn("Routing document file not found, relying on Redis",
				logging.String("path", path),
			)
		}
	}

	if cfg.RedisConfigKey != "" {
		source, err := config.NewRedisSource(app.RedisClient, app.Store, config.RedisSourceConfig{
			Key:      cfg.RedisConfigKey,
			Channel:  cfg.RedisConfigChannel,
			Schedule: cfg.ConfigResyncSchedule,
		})
		if err != nil {
			return err
		}
		app.RedisSource = source

		if err := source.Sync(ctx); err != nil {
			app.Logger.Warn("Initial routing document sync from Redis failed", logging.Err(err))
		}
	}

	if app.Store.Current() == nil {
		return fmt.Errorf("no routing document could be loaded")
	}
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Tracker != nil {
		app.Tracker.Stop()
	}
	if app.Bus != nil {
		app.Bus.Close()
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Err(err))
		}
	}
}
