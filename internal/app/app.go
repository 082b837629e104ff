package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/indiko7777/callsanta/internal/config"
	"github.com/indiko7777/callsanta/internal/service"
)

// App bundles the long-running pieces main owns: the HTTP server and the
// expiry reaper that returns abandoned access codes to the pool.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Server *http.Server
	Reaper *service.ExpiryReaper
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, reaper *service.ExpiryReaper) *App {
	return &App{Config: cfg, Logger: logger, Server: server, Reaper: reaper}
}

// StartBackground launches the reaper; it stops when ctx is cancelled.
func (a *App) StartBackground(ctx context.Context) {
	go a.Reaper.Run(ctx)
}
