// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher for the jarvis server.
package config

import (
	"time"

	"github.com/MrWong99/jarvis/internal/pipeline"
	"github.com/MrWong99/jarvis/internal/turn"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// MemoryBackend selects where sessions are persisted.
type MemoryBackend string

const (
	// BackendMemory keeps sessions in process only.
	BackendMemory MemoryBackend = "memory"

	// BackendPostgres persists sessions in a PostgreSQL table.
	BackendPostgres MemoryBackend = "postgres"

	// BackendRedis persists sessions as Redis keys.
	BackendRedis MemoryBackend = "redis"
)

// IsValid reports whether b is a recognised backend.
func (b MemoryBackend) IsValid() bool {
	switch b {
	case BackendMemory, BackendPostgres, BackendRedis:
		return true
	}
	return false
}

// Config is the root configuration. Load it with [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Providers ProvidersConfig `yaml:"providers"`
	VAD       vad.Config      `yaml:"vad"`
	Turn      TurnConfig      `yaml:"turn"`

	// Cues replaces the built-in transcript cue table when non-empty. Rules
	// are tried in order; the first match wins.
	Cues []turn.CueRule `yaml:"cues"`

	Memory    MemoryConfig    `yaml:"memory"`
	Assistant AssistantConfig `yaml:"assistant"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins are the cross-origin hosts accepted by the WebSocket
	// endpoint (e.g. "localhost:5173"). Same-origin requests are always
	// accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// SampleRate is assumed for binary PCM frames when a client does not
	// announce one.
	SampleRate int `yaml:"sample_rate"`

	// ShutdownTimeout bounds the graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// ServiceName is reported in telemetry resources.
	ServiceName string `yaml:"service_name"`

	// Metrics serves Prometheus metrics on /metrics when true.
	Metrics bool `yaml:"metrics"`
}

// ProvidersConfig lists the fallback chains. Entries are tried in order:
// the first one is the preferred provider.
type ProvidersConfig struct {
	LLM    ChainConfig `yaml:"llm"`
	TTS    ChainConfig `yaml:"tts"`
	Search ChainConfig `yaml:"search"`

	// SearchCacheTTL caches search results per query. Zero disables it.
	SearchCacheTTL time.Duration `yaml:"search_cache_ttl"`

	// Classifier, when set, names an LLM provider that decides whether a
	// request needs a web search. The rule table answers when it fails.
	Classifier *ProviderEntry `yaml:"classifier"`
}

// ChainConfig configures one fallback chain.
type ChainConfig struct {
	// Timeout bounds each provider attempt.
	Timeout time.Duration `yaml:"timeout"`

	// RetryAfter is how long a failed provider is skipped before it is
	// tried again.
	RetryAfter time.Duration `yaml:"retry_after"`

	// Entries are the providers in preference order.
	Entries []ProviderEntry `yaml:"entries"`
}

// ProviderEntry configures one provider. Name selects the constructor in
// the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "openai", "tavily").
	Name string `yaml:"name"`

	// ID labels the provider in logs, metrics and stored metadata.
	// Defaults to Name.
	ID string `yaml:"id"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// Label returns ID, or Name when ID is empty.
func (e ProviderEntry) Label() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Name
}

// TurnConfig holds the turn-taking timings. Hot-reloadable.
type TurnConfig struct {
	MinSpeechDuration   time.Duration `yaml:"min_speech_duration"`
	EndOfSpeechPause    time.Duration `yaml:"end_of_speech_pause"`
	TurnTakingDelay     time.Duration `yaml:"turn_taking_delay"`
	FinalTranscriptWait time.Duration `yaml:"final_transcript_wait"`

	// TickInterval is the analysis tick period of new sessions.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// Machine returns the timings as a [turn.Config].
func (t TurnConfig) Machine() turn.Config {
	return turn.Config{
		MinSpeechDuration:   t.MinSpeechDuration,
		EndOfSpeechPause:    t.EndOfSpeechPause,
		TurnTakingDelay:     t.TurnTakingDelay,
		FinalTranscriptWait: t.FinalTranscriptWait,
	}
}

// MemoryConfig bounds conversation memory and selects its persistence.
type MemoryConfig struct {
	// WindowSize is the number of recent messages used for prompts.
	WindowSize int `yaml:"window_size"`

	// LogSize is the number of messages retained per session.
	LogSize int `yaml:"log_size"`

	// InactivityTimeout closes idle sessions.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	// MaxSessions caps the sessions kept in memory and in the backend.
	MaxSessions int `yaml:"max_sessions"`

	// Housekeeping is the cron schedule of the expiry sweep.
	Housekeeping string `yaml:"housekeeping"`

	// Backend selects persistence: memory, postgres or redis.
	Backend MemoryBackend `yaml:"backend"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RedisURL is the connection URL for the redis backend.
	RedisURL string `yaml:"redis_url"`

	// RedisPrefix namespaces the redis keys.
	RedisPrefix string `yaml:"redis_prefix"`
}

// AssistantConfig shapes what the assistant says.
type AssistantConfig struct {
	// SystemPrompt replaces the built-in persona.
	SystemPrompt string `yaml:"system_prompt"`

	Voice VoiceConfig `yaml:"voice"`

	// MaxResponseChars truncates spoken replies.
	MaxResponseChars int `yaml:"max_response_chars"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// SummaryMessages is how many recent messages feed the prompt summary.
	SummaryMessages int `yaml:"summary_messages"`

	// SearchTimeout bounds the web lookup of one turn.
	SearchTimeout time.Duration `yaml:"search_timeout"`

	MaxSearchResults int `yaml:"max_search_results"`

	// SearchRules replaces the built-in search classification table.
	SearchRules []pipeline.SearchRule `yaml:"search_rules"`

	// Replies overrides the canned greeting, farewell and apology.
	Replies pipeline.Replies `yaml:"replies"`

	// PhoneticMatching corrects misheard command words. Default: true.
	PhoneticMatching *bool `yaml:"phonetic_matching"`
}

// VoiceConfig selects the synthesis voice.
type VoiceConfig struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	SpeedFactor float64 `yaml:"speed_factor"`
}
