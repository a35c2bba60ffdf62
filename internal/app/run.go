package app

import (
	"context"
	stderrors "errors"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"traffic-router/internal/common/logging"
	"traffic-router/internal/config"
	"traffic-router/internal/server"
)

// Version is set at build time
var Version = "dev"

const shutdownTimeout = 30 * time.Second

// proxyWriteTimeout leaves room for every forwarding attempt of a request
const proxyWriteTimeout = 5 * time.Minute

// Run loads settings from the environment (and .env), builds the
// application and serves until ctx is cancelled
func Run(ctx context.Context) error {
	_ = godotenv.Load()

	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting traffic router",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("version", Version),
	)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	return app.Serve(ctx)
}

// Serve runs both listeners, the probe loops, the configuration sources
// and the event emitter until ctx is done or one of them fails, then shuts
// everything down
func (app *App) Serve(ctx context.Context) error {
	cfg := app.Config
	g, gctx := errgroup.WithContext(ctx)

	app.Tracker.Start(gctx)

	proxyOpts := []server.Option{server.WithWriteTimeout(proxyWriteTimeout)}
	if cfg.TLSCertFile != "" {
		proxyOpts = append(proxyOpts, server.WithTLS(cfg.TLSCertFile, cfg.TLSKeyFile))
	}
	proxy := server.New("proxy", app.ProxyHandler(), cfg.Port, proxyOpts...)
	admin := server.New("admin", app.AdminHandler(), cfg.AdminPort)

	g.Go(proxy.ListenAndServe)
	g.Go(admin.ListenAndServe)

	if app.Watcher != nil && cfg.RoutingConfigWatch {
		g.Go(func() error { return app.Watcher.Run(gctx) })
	}
	if app.RedisSource != nil {
		g.Go(func() error { return app.RedisSource.Run(gctx) })
	}
	if app.Emitter != nil {
		g.Go(func() error { return app.Emitter.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		app.Logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := stderrors.Join(proxy.Shutdown(shutdownCtx), admin.Shutdown(shutdownCtx))
		app.Tracker.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error("Router stopped with error", err)
		return err
	}
	app.Logger.Info("Router stopped")
	return nil
}
