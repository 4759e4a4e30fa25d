package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-bridge-service/internal/config"
	"ai-voice-bridge-service/internal/observability/logging"
	"ai-voice-bridge-service/internal/service/session"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
	Store       *session.Store

	draining atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg:   cfg,
		Store: session.NewStore(),
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("AI voice bridge application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:  a.Cfg.Observability.LogLevel,
		Format: a.Cfg.Observability.LogFormat,
	})
	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("sttProvider", a.Cfg.STT.Provider).
		Str("model", a.Cfg.LLM.Model).
		Bool("toolsEnabled", a.Cfg.LLM.ToolsEnabled).
		Msg("AI voice bridge starting")

	return nil
}

// Uptime returns the time since Start.
func (a *Application) Uptime() time.Duration {
	if a.StartupTime.IsZero() {
		return 0
	}
	return time.Since(a.StartupTime)
}

// Ready reports whether the service accepts new connections.
func (a *Application) Ready() bool {
	return !a.draining.Load()
}

// Shutdown stops accepting sessions and drains the live ones until ctx ends.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.draining.Store(true)
	shutdownLogger.Info().Int("sessions", a.Store.Len()).Msg("AI voice bridge shutting down")

	if err := a.Store.CloseAll(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Sessions did not drain in time")
	}
}
