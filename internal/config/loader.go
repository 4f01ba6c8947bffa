package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/jarvis/internal/pipeline"
	"github.com/MrWong99/jarvis/internal/session"
	"github.com/MrWong99/jarvis/internal/turn"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
)

// ValidProviderNames lists the built-in provider names per chain. [Validate]
// warns about names outside this list; they may be registered by a fork.
var ValidProviderNames = map[string][]string{
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":    {"elevenlabs", "openai"},
	"search": {"tavily", "duckduckgo"},
}

// Default returns a configuration with every default filled in and no
// providers. Decoding starts from it so a file only names what it changes.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values in cfg with the defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.SampleRate <= 0 {
		cfg.Server.SampleRate = 16000
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "jarvis"
	}

	chainDefaults(&cfg.Providers.LLM, 8*time.Second)
	chainDefaults(&cfg.Providers.TTS, 5*time.Second)
	chainDefaults(&cfg.Providers.Search, 4*time.Second)

	// VAD weights may legitimately be zero, so defaults apply only to an
	// entirely unset section.
	if cfg.VAD == (vad.Config{}) {
		cfg.VAD = vad.DefaultConfig()
	}

	td := turn.DefaultConfig()
	if cfg.Turn.MinSpeechDuration <= 0 {
		cfg.Turn.MinSpeechDuration = td.MinSpeechDuration
	}
	if cfg.Turn.EndOfSpeechPause <= 0 {
		cfg.Turn.EndOfSpeechPause = td.EndOfSpeechPause
	}
	if cfg.Turn.TurnTakingDelay <= 0 {
		cfg.Turn.TurnTakingDelay = td.TurnTakingDelay
	}
	if cfg.Turn.FinalTranscriptWait <= 0 {
		cfg.Turn.FinalTranscriptWait = td.FinalTranscriptWait
	}
	if cfg.Turn.TickInterval <= 0 {
		cfg.Turn.TickInterval = 50 * time.Millisecond
	}

	md := session.DefaultConfig()
	if cfg.Memory.WindowSize <= 0 {
		cfg.Memory.WindowSize = md.WindowSize
	}
	if cfg.Memory.LogSize <= 0 {
		cfg.Memory.LogSize = md.LogSize
	}
	if cfg.Memory.InactivityTimeout <= 0 {
		cfg.Memory.InactivityTimeout = md.InactivityTimeout
	}
	if cfg.Memory.MaxSessions <= 0 {
		cfg.Memory.MaxSessions = md.MaxSessions
	}
	if cfg.Memory.Housekeeping == "" {
		cfg.Memory.Housekeeping = "@every 30s"
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = BackendMemory
	}

	if cfg.Assistant.MaxResponseChars <= 0 {
		cfg.Assistant.MaxResponseChars = pipeline.DefaultMaxResponseChars
	}
	if cfg.Assistant.SearchTimeout <= 0 {
		cfg.Assistant.SearchTimeout = 4 * time.Second
	}
	if cfg.Assistant.MaxSearchResults <= 0 {
		cfg.Assistant.MaxSearchResults = 3
	}
	if cfg.Assistant.SummaryMessages <= 0 {
		cfg.Assistant.SummaryMessages = session.DefaultSummaryMessages
	}
	if cfg.Assistant.PhoneticMatching == nil {
		on := true
		cfg.Assistant.PhoneticMatching = &on
	}
}

func chainDefaults(c *ChainConfig, timeout time.Duration) {
	if c.Timeout <= 0 {
		c.Timeout = timeout
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = 30 * time.Second
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// envRef matches ${NAME} references. The bare $NAME form is left alone so
// that regular expressions ending in $ survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} with the value of the environment variable
// NAME, or the empty string when it is unset.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(m[2 : len(m)-1])))
	})
}

// LoadFromReader decodes YAML from r over [Default] and validates the
// result. ${NAME} references are replaced from the environment first.
// Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg and returns every problem as one joined error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs both cert_file and key_file"))
	}

	if len(cfg.Providers.LLM.Entries) == 0 {
		errs = append(errs, errors.New("providers.llm needs at least one entry"))
	}
	errs = append(errs, validateChain("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateChain("tts", cfg.Providers.TTS)...)
	errs = append(errs, validateChain("search", cfg.Providers.Search)...)
	if len(cfg.Providers.TTS.Entries) == 0 {
		slog.Warn("providers.tts is empty; replies are spoken by the client's own voice")
	}
	if len(cfg.Providers.Search.Entries) == 0 {
		slog.Warn("providers.search is empty; answers will not be grounded in web results")
	}
	if c := cfg.Providers.Classifier; c != nil {
		if c.Name == "" {
			errs = append(errs, errors.New("providers.classifier.name is required"))
		}
		validateProviderName("llm", c.Name)
	}

	if err := cfg.VAD.Validate(); err != nil {
		errs = append(errs, err)
	}

	if cfg.Turn.TickInterval > cfg.Turn.EndOfSpeechPause {
		errs = append(errs, fmt.Errorf("turn.tick_interval %v exceeds turn.end_of_speech_pause %v", cfg.Turn.TickInterval, cfg.Turn.EndOfSpeechPause))
	}
	if len(cfg.Cues) > 0 {
		if _, err := turn.NewCueTable(cfg.Cues); err != nil {
			errs = append(errs, fmt.Errorf("cues: %w", err))
		}
	}

	if !cfg.Memory.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: memory, postgres, redis", cfg.Memory.Backend))
	}
	if cfg.Memory.Backend == BackendPostgres && cfg.Memory.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is required for the postgres backend"))
	}
	if cfg.Memory.Backend == BackendRedis && cfg.Memory.RedisURL == "" {
		errs = append(errs, errors.New("memory.redis_url is required for the redis backend"))
	}
	if cfg.Memory.LogSize < cfg.Memory.WindowSize {
		errs = append(errs, fmt.Errorf("memory.log_size %d is smaller than memory.window_size %d", cfg.Memory.LogSize, cfg.Memory.WindowSize))
	}
	if _, err := cron.ParseStandard(cfg.Memory.Housekeeping); err != nil {
		errs = append(errs, fmt.Errorf("memory.housekeeping %q: %w", cfg.Memory.Housekeeping, err))
	}

	if v := cfg.Assistant.Voice.SpeedFactor; v != 0 && (v < 0.5 || v > 2.0) {
		errs = append(errs, fmt.Errorf("assistant.voice.speed_factor %.2f is out of range [0.5, 2.0]", v))
	}
	if t := cfg.Assistant.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", t))
	}
	if len(cfg.Assistant.SearchRules) > 0 {
		if _, err := pipeline.NewSearchClassifier(cfg.Assistant.SearchRules); err != nil {
			errs = append(errs, fmt.Errorf("assistant.search_rules: %w", err))
		}
	}

	return errors.Join(errs...)
}

func validateChain(kind string, c ChainConfig) []error {
	var errs []error
	seen := make(map[string]int, len(c.Entries))
	for i, e := range c.Entries {
		prefix := fmt.Sprintf("providers.%s.entries[%d]", kind, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Label()]; ok {
			errs = append(errs, fmt.Errorf("%s: id %q duplicates entries[%d]; set a distinct id", prefix, e.Label(), prev))
		}
		seen[e.Label()] = i
		validateProviderName(kind, e.Name)
	}
	return errs
}

// validateProviderName warns when name is not a built-in provider of kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
