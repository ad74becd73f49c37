package app

import (
	"context"

	"laminate/internal/common/logging"
	"laminate/internal/handlers"
)

// startWatchers keeps compiled templates fresh: file changes when
// LAMINATE_WATCH is set, and invalidations published by other instances
// when Redis is available
func (app *App) startWatchers(ctx context.Context, h *handlers.Handlers) error {
	if app.Config.Watch && app.Files != nil {
		err := app.Files.Watch(ctx, func(name string) {
			h.Invalidate(ctx, name)
		})
		if err != nil {
			return err
		}
	}

	if app.RedisClient != nil {
		err := app.RedisClient.SubscribeInvalidations(ctx, func(name string) {
			h.Invalidate(ctx, name)
		})
		if err != nil {
			// Other instances' edits are still picked up once the source hash changes
			app.Logger.Warn("Template invalidation subscription failed",
				logging.Field{Key: "error", Value: err.Error()})
		}
	}
	return nil
}
