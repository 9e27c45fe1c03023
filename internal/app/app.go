package app

import (
	"log/slog"
	"os"

	"github.com/vadim/prodesk/internal/auth"
	"github.com/vadim/prodesk/internal/chat/policy"
	"github.com/vadim/prodesk/internal/config"
	"github.com/vadim/prodesk/internal/httpx/upstream/marketplace"
	"github.com/vadim/prodesk/internal/realtime"
)

// App holds the long-lived dependencies every mounted chat surface shares:
// the REST client, the refcounted realtime hub, the notification policy and
// the logger. Mount sessions are created from it.
type App struct {
	Config   config.Config
	Log      *slog.Logger
	API      *marketplace.Client
	Hub      *realtime.Hub
	Policy   *policy.Policy
	Notifier policy.Notifier
}

// New wires the application from configuration.
func New(cfg config.Config) *App {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	tokens := auth.EnvToken(cfg.API.TokenEnv)
	api := marketplace.New(cfg.API.BaseURL, tokens)

	hub := realtime.NewHub(func() *realtime.Client {
		return realtime.NewClient(realtime.Options{
			URL:           cfg.Realtime.Endpoint(cfg.API.BaseURL),
			Tokens:        tokens,
			Logger:        log,
			ReconnectBase: cfg.Realtime.ReconnectBase,
			ReconnectMax:  cfg.Realtime.ReconnectMax,
			MaxReconnects: cfg.Realtime.MaxReconnects,
		})
	})

	return &App{
		Config:   cfg,
		Log:      log,
		API:      api,
		Hub:      hub,
		Policy:   policy.New(),
		Notifier: policy.NewLogNotifier(log),
	}
}
