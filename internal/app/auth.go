package app

import (
	"laminate/internal/auth"
)

func (app *App) initializeAuth() {
	// Revocations need Redis; a nil client only disables Revoke
	var revocations auth.RedisClient
	if app.RedisClient != nil {
		revocations = app.RedisClient
	}
	app.Auth = auth.New(app.Config, revocations)

	if app.Auth.Enabled() {
		app.Logger.Info("Authentication: Enabled")
	} else {
		app.Logger.Warn("Authentication: Disabled (JWT_SECRET is not set)")
	}
}
