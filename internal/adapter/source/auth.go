package source

import (
	"context"
	"log/slog"

	"github.com/mmcdole/kinosync/internal/adapter"
	"github.com/mmcdole/kinosync/internal/adapter/source/trakt"
)

// NewTokenRefresher returns a refresh hook that re-reads the configuration
// and hands back its access token. Obtaining a new token is left to
// whatever writes the config (`kinosync setup` or an external tool).
func NewTokenRefresher(load func() (*adapter.Config, error), logger *slog.Logger) trakt.TokenRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cfg, err := load()
		if err != nil {
			logger.Error("failed to reload config for token refresh", "error", err)
			return "", err
		}
		return cfg.Trakt.AccessToken, nil
	}
}
