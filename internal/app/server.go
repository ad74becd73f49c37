package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"laminate/internal/common/logging"
	"laminate/internal/handlers"
	"laminate/internal/server"
)

// Handlers builds the render API handlers over the app's dependencies
func (app *App) Handlers() (*handlers.Handlers, error) {
	deps := handlers.Deps{
		Config:       app.Config,
		Loader:       app.Loader,
		Helpers:      app.Helpers,
		VendorSource: app.VendorSource,
		Logger:       logging.ForComponent("handlers"),
		Checks:       map[string]func() error{},
	}
	if app.Store != nil {
		deps.Store = app.Store
		deps.Checks["database"] = app.Store.Health
	}
	if app.Scripts != nil {
		deps.Cache = app.Scripts
	}
	if app.RedisClient != nil {
		deps.Publisher = app.RedisClient
		deps.Checks["redis"] = app.RedisClient.Health
	}
	if app.Limiter != nil {
		deps.Checks["rate_limiter"] = app.Limiter.Health
	}
	return handlers.New(deps)
}

// Serve runs the render API until ctx is cancelled, SIGINT/SIGTERM arrives
// or the server fails
func (app *App) Serve(ctx context.Context) error {
	h, err := app.Handlers()
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	SetupRoutes(router, h, app.Auth, app.Limiter, logging.ForComponent("http"))

	workers, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-app.shutdownCh:
			cancel()
		case <-workers.Done():
		}
	}()

	if err := app.startWatchers(workers, h); err != nil {
		return err
	}
	if err := app.scheduleFlush(h.Reset); err != nil {
		return err
	}

	srv := server.New(router, app.Config.Port, app.Config.TLSCert, app.Config.TLSKey, logging.ForComponent("server"))
	if err := srv.Start(); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	var serveErr error
	select {
	case <-quit:
		logging.Info("Shutting down server...")
	case <-ctx.Done():
		logging.Info("Shutting down server...")
	case err, ok := <-srv.Errors():
		if ok {
			serveErr = err
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
	}
	app.Shutdown(shutdownCtx)

	if serveErr != nil {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	logging.Info("Server exited")
	return nil
}
