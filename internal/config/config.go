package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration holds all settings for the voice bridge, loaded from the environment.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	LLM           LLMConfig
	TaskAPI       TaskAPIConfig
	Session       SessionConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal string
	HTTPPort  string
	GRPCPort  string
}

// STTConfig selects and configures the speech-to-text provider.
type STTConfig struct {
	Provider       string // mock, assemblyai, google
	APIKey         string
	SampleRateHz   int
	LanguageCode   string
	InterimResults bool
	AudioEncoding  string
}

// LLMConfig configures the streaming completion engine.
type LLMConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	Temperature   float64
	SystemPrompt  string
	ToolsEnabled  bool
	MaxToolRounds int
}

// TaskAPIConfig points the action tools at the task-management REST API.
type TaskAPIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SessionConfig holds per-connection limits and timings.
type SessionConfig struct {
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	TurnDrainTimeout  time.Duration
	Quiescence        time.Duration
	MinUtteranceChars int
	HistoryLimit      int
	EventBuffer       int
	OutboundBuffer    int
	MaxFrameBytes     int64
}

type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicUtterance string
	TopicTurn      string
	Principal      string
	PublishTimeout time.Duration
}

type ObservabilityConfig struct {
	LogLevel      string
	LogFormat     string
	MetricsAddr   string
	SessionsDebug bool
}

// Load reads the configuration from environment variables.
// Unparseable values fall back to their defaults.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-bridge")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8000"),
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			APIKey:         os.Getenv("ASSEMBLYAI_API_KEY"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
		},
		LLM: LLMConfig{
			APIKey:        os.Getenv("OPENAI_API_KEY"),
			BaseURL:       os.Getenv("OPENAI_BASE_URL"),
			Model:         envOrDefault("LLM_MODEL", "gpt-3.5-turbo"),
			MaxTokens:     envOrDefaultInt("LLM_MAX_TOKENS", 150),
			Temperature:   envOrDefaultFloat("LLM_TEMPERATURE", 0.7),
			SystemPrompt:  os.Getenv("LLM_SYSTEM_PROMPT"),
			ToolsEnabled:  envOrDefaultBool("LLM_TOOLS_ENABLED", false),
			MaxToolRounds: envOrDefaultInt("LLM_MAX_TOOL_ROUNDS", 5),
		},
		TaskAPI: TaskAPIConfig{
			BaseURL: os.Getenv("TASK_API_BASE_URL"),
			Timeout: envOrDefaultDuration("TASK_API_TIMEOUT", 10*time.Second),
		},
		Session: SessionConfig{
			HandshakeTimeout:  envOrDefaultDuration("SESSION_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:      envOrDefaultDuration("SESSION_WRITE_TIMEOUT", 5*time.Second),
			PingInterval:      envOrDefaultDuration("SESSION_PING_INTERVAL", 20*time.Second),
			TurnDrainTimeout:  envOrDefaultDuration("SESSION_TURN_DRAIN_TIMEOUT", 30*time.Second),
			Quiescence:        envOrDefaultDuration("DEBOUNCE_QUIESCENCE", 100*time.Millisecond),
			MinUtteranceChars: envOrDefaultInt("DEBOUNCE_MIN_CHARS", 5),
			HistoryLimit:      envOrDefaultInt("SESSION_HISTORY_LIMIT", 10),
			EventBuffer:       envOrDefaultInt("SESSION_EVENT_BUFFER", 64),
			OutboundBuffer:    envOrDefaultInt("SESSION_OUTBOUND_BUFFER", 256),
			MaxFrameBytes:     int64(envOrDefaultInt("SESSION_MAX_FRAME_BYTES", 1024*1024)),
		},
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:        envList("KAFKA_BROKERS"),
			TopicUtterance: envOrDefault("KAFKA_TOPIC_UTTERANCE", "voice.utterance.accepted"),
			TopicTurn:      envOrDefault("KAFKA_TOPIC_TURN", "voice.turn.completed"),
			Principal:      envOrDefault("KAFKA_PRINCIPAL", principal),
			PublishTimeout: envOrDefaultDuration("KAFKA_PUBLISH_TIMEOUT", 2*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:      envOrDefault("LOG_LEVEL", "info"),
			LogFormat:     envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr:   envOrDefault("METRICS_ADDR", ":9090"),
			SessionsDebug: envOrDefaultBool("SESSIONS_DEBUG", false),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// envList splits a comma separated variable, dropping empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
