package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	Port          string
	AllowedOrigin string
	LogLevel      string
	LogFormat     string

	// Generation
	LLMProvider        string
	GeminiAPIKey       string
	GeminiModel        string
	OpenAIAPIKey       string
	Model              string
	GenerationTimeout  time.Duration
	GenerationAttempts int
	GenerationBackoff  []time.Duration

	// Speech
	STTModel       string
	TTSEngine      string
	TTSModel       string
	TTSVoice       string
	PiperBinary    string
	PiperModelsDir string
	PiperVoice     string
	VoiceWorkers   int
	VoiceQueueSize int
	SpeakJobTTL    time.Duration

	// Personas
	PersonaFile  string
	WatchPersona bool

	// Sessions
	SessionIdleTTL   time.Duration
	SessionSweepSpec string
	CookieSecure     bool
}

func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:               getEnvDefault("PORT", "8080"),
		AllowedOrigin:      getEnvDefault("ALLOWED_ORIGIN", "*"),
		LogLevel:           getEnvDefault("LOG_LEVEL", "info"),
		LogFormat:          getEnvDefault("LOG_FORMAT", "json"),
		LLMProvider:        strings.ToLower(getEnvDefault("LLM_PROVIDER", "gemini")),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        getEnvDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		Model:              getEnvDefault("OPENAI_MODEL", "gpt-4o-mini"),
		GenerationTimeout:  getEnvDurationDefault("GENERATION_TIMEOUT", 30*time.Second),
		GenerationAttempts: getEnvIntDefault("GENERATION_MAX_ATTEMPTS", 2),
		GenerationBackoff:  getEnvDurationListDefault("GENERATION_BACKOFF", []time.Duration{time.Second}),
		STTModel:           getEnvDefault("OPENAI_STT_MODEL", "whisper-1"),
		TTSEngine:          strings.ToLower(getEnvDefault("TTS_ENGINE", "auto")),
		TTSModel:           getEnvDefault("OPENAI_TTS_MODEL", "tts-1"),
		TTSVoice:           getEnvDefault("OPENAI_TTS_VOICE", "alloy"),
		PiperBinary:        os.Getenv("PIPER_BINARY"),
		PiperModelsDir:     getEnvDefault("PIPER_MODELS_DIR", "./piper-voices"),
		PiperVoice:         getEnvDefault("PIPER_VOICE", "en_US-amy-medium"),
		VoiceWorkers:       getEnvIntDefault("VOICE_WORKERS", 2),
		VoiceQueueSize:     getEnvIntDefault("VOICE_QUEUE_SIZE", 64),
		SpeakJobTTL:        getEnvDurationDefault("SPEAK_JOB_TTL", 10*time.Minute),
		PersonaFile:        os.Getenv("PERSONA_FILE"),
		WatchPersona:       getEnvBoolDefault("PERSONA_WATCH", true),
		SessionIdleTTL:     getEnvDurationDefault("SESSION_IDLE_TTL", 60*time.Minute),
		SessionSweepSpec:   getEnvDefault("SESSION_SWEEP_SPEC", "@every 1m"),
		CookieSecure:       getEnvBoolDefault("COOKIE_SECURE", false),
	}
}

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.LLMProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("LLM_PROVIDER must be gemini or openai, got %q", c.LLMProvider)
	}
	switch c.TTSEngine {
	case "auto", "piper", "openai", "browser":
	default:
		return fmt.Errorf("TTS_ENGINE must be auto, piper, openai or browser, got %q", c.TTSEngine)
	}
	if c.GenerationAttempts < 1 {
		return fmt.Errorf("GENERATION_MAX_ATTEMPTS must be at least 1")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}
	if c.VoiceWorkers < 1 {
		return fmt.Errorf("VOICE_WORKERS must be at least 1")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Warnings lists settings that leave a feature degraded.
func (c Config) Warnings() []string {
	var out []string
	if c.LLMProvider == "gemini" && c.GeminiAPIKey == "" {
		out = append(out, "GEMINI_API_KEY is not set; replies will use persona fallbacks")
	}
	if c.LLMProvider == "openai" && c.OpenAIAPIKey == "" {
		out = append(out, "OPENAI_API_KEY is not set; replies will use persona fallbacks")
	}
	if c.OpenAIAPIKey == "" {
		out = append(out, "OPENAI_API_KEY is not set; speech input is disabled")
	}
	return out
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvListDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}

// getEnvDurationListDefault reads a comma separated list such as "500ms,2s".
func getEnvDurationListDefault(key string, def []time.Duration) []time.Duration {
	parts := getEnvListDefault(key, nil)
	if len(parts) == 0 {
		return def
	}
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil {
			return def
		}
		out = append(out, d)
	}
	return out
}
