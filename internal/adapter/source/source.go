package source

import (
	"fmt"
	"log/slog"

	"github.com/mmcdole/kinosync/internal/adapter"
	"github.com/mmcdole/kinosync/internal/adapter/source/addon"
	"github.com/mmcdole/kinosync/internal/adapter/source/trakt"
	"github.com/mmcdole/kinosync/internal/domain"
)

// AccountSource combines the read and write interfaces the account
// service backend must implement.
type AccountSource interface {
	domain.TraktRepository // Pulls: activities, watched, collection, watchlist, playback, hidden
	domain.TraktWriter     // Mutations: history, watchlist, hidden, playback
}

// NewTraktClient creates the account source from the application config.
// A rejected token is retried once with whatever token the config file
// holds at that moment.
func NewTraktClient(cfg *adapter.Config, logger *slog.Logger) (AccountSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if cfg.Trakt.URL == "" {
		return nil, fmt.Errorf("trakt URL is required")
	}
	if cfg.Trakt.ClientID == "" {
		return nil, fmt.Errorf("trakt client ID is required")
	}

	return trakt.NewClient(cfg.Trakt.URL, cfg.Trakt.ClientID, cfg.Trakt.AccessToken, logger,
		trakt.WithTimeout(cfg.Trakt.Timeout),
		trakt.WithRateLimit(cfg.Trakt.RateLimit, cfg.Trakt.RateBurst),
		trakt.WithRefresher(NewTokenRefresher(adapter.LoadConfig, logger)),
	), nil
}

// NewAddonClient creates the add-on resource source, or nil when no
// add-on is configured.
func NewAddonClient(cfg *adapter.Config, logger *slog.Logger) domain.ResourceRepository {
	if cfg == nil || cfg.Addon.URL == "" {
		return nil
	}
	return addon.NewClient(cfg.Addon.URL, cfg.Addon.Timeout, logger)
}
