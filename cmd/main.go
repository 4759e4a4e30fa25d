package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpcapi "ai-voice-bridge-service/internal/api/grpc"
	"ai-voice-bridge-service/internal/app"
	"ai-voice-bridge-service/internal/config"
	"ai-voice-bridge-service/internal/events"
	httpapi "ai-voice-bridge-service/internal/http"
	"ai-voice-bridge-service/internal/observability"
	"ai-voice-bridge-service/internal/observability/metrics"
	"ai-voice-bridge-service/internal/schema"
	"ai-voice-bridge-service/internal/service/bridge"
	"ai-voice-bridge-service/internal/service/debounce"
	"ai-voice-bridge-service/internal/service/llm"
	"ai-voice-bridge-service/internal/service/llm/openai"
	"ai-voice-bridge-service/internal/service/session"
	"ai-voice-bridge-service/internal/service/stt"
	"ai-voice-bridge-service/internal/service/stt/assemblyai"
	"ai-voice-bridge-service/internal/service/stt/google"
	"ai-voice-bridge-service/internal/service/stt/mock"
	"ai-voice-bridge-service/internal/service/tasks"
	"ai-voice-bridge-service/internal/service/turn"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	application := app.New(cfg)
	logger := application.Logger

	if err := application.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Application start failed")
	}

	obs := observability.NewServer(cfg.Observability.MetricsAddr)
	obs.Start()

	// Create Kafka publisher with separate topics for utterances and turns
	publisher := events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicUtterance: cfg.Kafka.TopicUtterance,
		TopicTurn:      cfg.Kafka.TopicTurn,
		Principal:      cfg.Kafka.Principal,
	})

	var engine llm.Engine
	if e, err := openai.New(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}); err != nil {
		logger.Warn().Err(err).Msg("Completion engine unavailable, turns will fail")
	} else {
		engine = e
	}

	processor := turn.NewProcessor(engine, turn.Config{
		SystemPrompt:   cfg.LLM.SystemPrompt,
		MaxToolRounds:  cfg.LLM.MaxToolRounds,
		PublishTimeout: cfg.Kafka.PublishTimeout,
	}, turn.WithPublisher(publisher), turn.WithMetrics(metrics.DefaultMetrics))

	newAdapter, err := adapterFactory(cfg.STT)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid STT configuration")
	}

	deps := bridge.Deps{
		Store:      application.Store,
		Validator:  schema.New(),
		Turns:      processor,
		NewAdapter: newAdapter,
		NewToolset: toolsetFactory(cfg, application),
		Metrics:    metrics.DefaultMetrics,
		Config:     bridgeConfig(cfg),
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Voice bridge listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to listen for gRPC")
	}
	grpcServer := grpcapi.NewServer(metrics.DefaultMetrics)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info().Str("signal", s.String()).Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	obs.SetReady(false)
	grpcServer.SetServing(false)

	// Hijacked websocket connections are not tracked by Shutdown; the store
	// drain below ends them.
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	application.Shutdown(ctx)

	// Audit publishes are bounded by PublishTimeout.
	processor.Wait()
	if err := publisher.Close(); err != nil {
		logger.Warn().Err(err).Msg("Kafka publisher close failed")
	}
	grpcServer.Shutdown(ctx)
	if err := obs.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Observability server shutdown failed")
	}
	logger.Info().Msg("Shutdown complete")
}

func bridgeConfig(cfg *config.Configuration) bridge.Config {
	bc := bridge.DefaultConfig()
	bc.HandshakeTimeout = cfg.Session.HandshakeTimeout
	bc.WriteTimeout = cfg.Session.WriteTimeout
	bc.PingInterval = cfg.Session.PingInterval
	bc.TurnDrainTimeout = cfg.Session.TurnDrainTimeout
	bc.Debounce = debounce.Config{
		MinChars:   cfg.Session.MinUtteranceChars,
		Quiescence: cfg.Session.Quiescence,
	}
	bc.HistoryLimit = cfg.Session.HistoryLimit
	bc.EventBuffer = cfg.Session.EventBuffer
	bc.OutboundBuffer = cfg.Session.OutboundBuffer
	bc.MaxFrameBytes = cfg.Session.MaxFrameBytes
	bc.Provider = cfg.STT.Provider
	return bc
}

// toolsetFactory binds the task tools to each session, or returns nil when
// tool calling is off or no task API is configured.
func toolsetFactory(cfg *config.Configuration, application *app.Application) bridge.ToolsetFactory {
	if !cfg.LLM.ToolsEnabled {
		return nil
	}
	if cfg.TaskAPI.BaseURL == "" {
		application.Logger.Warn().Msg("LLM_TOOLS_ENABLED set without TASK_API_BASE_URL, tools disabled")
		return nil
	}

	client := tasks.NewClient(cfg.TaskAPI.BaseURL, cfg.TaskAPI.Timeout)
	return func(sess *session.Session) turn.Toolset {
		return tasks.NewToolset(client, sess)
	}
}

// adapterFactory selects the STT provider named in cfg.
func adapterFactory(cfg config.STTConfig) (bridge.AdapterFactory, error) {
	switch cfg.Provider {
	case "mock", "":
		return func(context.Context, string) (stt.Adapter, error) {
			return mock.New(), nil
		}, nil
	case "assemblyai":
		if cfg.APIKey == "" {
			return nil, errors.New("assemblyai provider requires ASSEMBLYAI_API_KEY")
		}
		ac := assemblyai.DefaultConfig(cfg.APIKey)
		ac.SampleRate = cfg.SampleRateHz
		return func(context.Context, string) (stt.Adapter, error) {
			return assemblyai.New(ac), nil
		}, nil
	case "google":
		gc := google.DefaultConfig()
		gc.LanguageCode = cfg.LanguageCode
		gc.SampleRateHz = cfg.SampleRateHz
		gc.InterimResults = cfg.InterimResults
		gc.AudioEncoding = cfg.AudioEncoding
		return func(ctx context.Context, _ string) (stt.Adapter, error) {
			a, err := google.New(ctx, gc)
			if err != nil {
				return nil, err
			}
			return a, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}
