package app

import (
	"context"
	"fmt"
	"sync"

	httptransport "authz/internal/transport/http"

	"authz/internal/config"
)

// App is the authorization server process: the fabric consumers, the
// HTTP boundary, and the maintenance scheduler running together in one
// binary. The governing specification names no separate worker
// deployment mode, so unlike the teacher's ModeServer/ModeWorker split
// this App always starts every component.
type App struct {
	core       *Core
	httpServer *httptransport.Server

	consumeCtx    context.Context
	consumeCancel context.CancelFunc

	shutdownOnce sync.Once
}

// New constructs the fully wired application from configuration.
func New(cfg *config.Config) (*App, error) {
	core, err := provideCore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	httpServer := httptransport.NewServer(cfg, core.Coordinator, core.Orgs, core.Engine, core.Audit, core.Logger)

	return &App{
		core:       core,
		httpServer: httpServer,
	}, nil
}

// Start registers the fabric consumers, starts the maintenance
// scheduler, and launches the HTTP server in the background. It returns
// as soon as those are underway; a server that fails later logs and
// exits the process, mirroring the teacher's app.go ServeErr handling.
func (a *App) Start() error {
	a.core.Logger.Info("starting authorization server")

	a.consumeCtx, a.consumeCancel = context.WithCancel(context.Background())
	if err := a.core.Handlers.Register(a.consumeCtx, a.core.Transport); err != nil {
		a.consumeCancel()
		return fmt.Errorf("failed to register fabric handlers: %w", err)
	}

	a.core.Cleanup.Start()

	go func() {
		if err := a.httpServer.Start(); err != nil {
			a.core.Logger.Error("http server failed", "error", err)
		}
	}()

	a.core.Logger.Info("authorization server started", "address", a.core.Config.GetServerAddress())
	return nil
}

// Shutdown stops the HTTP server, the fabric consumers, the maintenance
// scheduler, and closes every database connection, in that order.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.shutdownOnce.Do(func() {
		shutdownErr = a.doShutdown(ctx)
	})
	return shutdownErr
}

func (a *App) doShutdown(ctx context.Context) error {
	a.core.Logger.Info("shutting down authorization server")

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.core.Logger.Error("failed to shutdown http server", "error", err)
		}
	}()

	go func() {
		defer wg.Done()
		if a.consumeCancel != nil {
			a.consumeCancel()
		}
	}()

	go func() {
		defer wg.Done()
		a.core.Cleanup.Stop()
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.core.Logger.Warn("shutdown timeout exceeded, forcing shutdown")
	}

	if err := a.core.Databases.Close(); err != nil {
		a.core.Logger.Error("failed to close databases", "error", err)
		return err
	}

	a.core.Logger.Info("authorization server shutdown complete")
	return nil
}
