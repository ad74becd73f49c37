package app

import (
	"context"
	"fmt"
	"os"

	"laminate/internal/auth"
	"laminate/internal/common/logging"
	"laminate/internal/common/ratelimit"
	"laminate/internal/config"
	"laminate/internal/laminate/helpers"
	"laminate/internal/laminate/loader"
	"laminate/internal/laminate/parser"
	"laminate/internal/laminate/state"
	"laminate/internal/laminate/template"
	"laminate/internal/redis"

	"github.com/robfig/cron/v3"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Logger      logging.Logger
	RedisClient *redis.Client
	// Loader resolves template names; Store is also set when it is SQL-backed
	Loader       loader.Loader
	Store        *loader.SQLStore
	Files        *loader.FileLoader
	Scripts      *loader.ScriptCache
	Auth         *auth.Auth
	Limiter      ratelimit.Limiter
	Dialect      parser.Dialect
	Helpers      []helpers.Provider
	VendorSource string

	cron       *cron.Cron
	shutdownCh chan struct{}
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	dialect, err := parser.DialectByName(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:     cfg,
		Logger:     logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
		Dialect:    dialect,
		Helpers:    helpers.Standard(),
		shutdownCh: make(chan struct{}),
	}

	state.SetTimeoutsEnabled(cfg.TimeoutsEnabled)

	if err := app.loadVendor(); err != nil {
		return nil, err
	}

	// Initialize components in order of dependency
	if cfg.NeedsRedis() {
		if err := app.initializeRedis(); err != nil {
			return nil, err
		}
	}

	if err := app.initializeStorage(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeCache(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializeAuth()

	if err := app.initializeRateLimiter(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// NewLocal creates an App for rendering files from the command line. It
// opens no database or Redis connection.
func NewLocal(cfg *config.Config) (*App, error) {
	dialect, err := parser.DialectByName(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:     cfg,
		Logger:     logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "cli"}),
		Dialect:    dialect,
		Helpers:    helpers.Standard(),
		shutdownCh: make(chan struct{}),
	}
	state.SetTimeoutsEnabled(cfg.TimeoutsEnabled)

	if err := app.loadVendor(); err != nil {
		return nil, err
	}
	return app, nil
}

func (app *App) loadVendor() error {
	if app.Config.VendorFile == "" {
		return nil
	}
	src, err := os.ReadFile(app.Config.VendorFile)
	if err != nil {
		return fmt.Errorf("failed to read vendor file: %w", err)
	}
	app.VendorSource = string(src)
	app.Logger.Info("Vendor file loaded", logging.Field{Key: "path", Value: app.Config.VendorFile})
	return nil
}

// TemplateOptions are the options every template of this app is built with
func (app *App) TemplateOptions() []template.Option {
	opts := []template.Option{
		template.WithDialect(app.Dialect),
		template.WithLogger(logging.ForComponent("template")),
	}
	if app.Scripts != nil {
		opts = append(opts, template.WithCache(app.Scripts))
	}
	return opts
}

// RenderOptions are the defaults for a render with locals
func (app *App) RenderOptions(locals map[string]any) template.RenderOptions {
	wrap := app.Config.WrapExceptions
	return template.RenderOptions{
		Locals:         locals,
		Helpers:        app.Helpers,
		Timeout:        app.Config.RenderTimeout(),
		WrapExceptions: &wrap,
		VendorSource:   app.VendorSource,
	}
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.cron != nil {
		<-app.cron.Stop().Done()
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.Warn("Error closing template store", logging.Field{Key: "error", Value: err.Error()})
		}
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Field{Key: "error", Value: err.Error()})
		}
	}
}

// Shutdown stops background workers started by Serve
func (app *App) Shutdown(ctx context.Context) error {
	select {
	case <-app.shutdownCh:
	default:
		close(app.shutdownCh)
	}
	return nil
}
