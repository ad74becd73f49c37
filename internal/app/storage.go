package app

import (
	"fmt"

	"laminate/internal/common/logging"
	"laminate/internal/laminate/loader"
)

// initializeStorage picks the template source named by TEMPLATE_SOURCE
func (app *App) initializeStorage() error {
	switch app.Config.TemplateSource {
	case "", "file":
		files := loader.NewFileLoader(app.Config.TemplateDir)
		files.Ext = app.Config.TemplateExt
		app.Files = files
		app.Loader = files
		app.Logger.Info("Templates: files", logging.Field{Key: "dir", Value: app.Config.TemplateDir})

	case "sqlite":
		store, err := loader.OpenSQLite(app.Config.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open template database: %w", err)
		}
		app.Store = store
		app.Loader = store
		app.Logger.Info("Templates: SQLite", logging.Field{Key: "path", Value: app.Config.DatabasePath})

	case "postgres", "postgresql":
		var store *loader.SQLStore
		err := app.connect("PostgreSQL", func() error {
			var err error
			store, err = loader.OpenPostgres(app.Config.PostgresDSN())
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to open template database: %w", err)
		}
		app.Store = store
		app.Loader = store
		app.Logger.Info("Templates: PostgreSQL",
			logging.Field{Key: "host", Value: app.Config.PostgresHost},
			logging.Field{Key: "database", Value: app.Config.PostgresDB},
		)

	default:
		return fmt.Errorf("unsupported template source: %s", app.Config.TemplateSource)
	}
	return nil
}
