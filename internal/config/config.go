package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the client and the pipeline server.
type Config struct {
	Deepgram DeepgramConfig
	Audio    AudioConfig
	Rules    RulesConfig
	Session  SessionConfig
	Backend  BackendConfig
	Google   GoogleConfig
	Server   ServerConfig
	LogLevel string
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	KeepAlive   time.Duration
}

type AudioConfig struct {
	RecorderCommand string
	PlayerCommand   string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type SessionConfig struct {
	ChunkSize              int
	StreamingGrace         time.Duration
	TurnBudget             time.Duration
	TickInterval           time.Duration
	MaxRestarts            int
	TransientRetries       int
	MaxRecognitionFailures int
	DefaultDuration        time.Duration
}

type BackendConfig struct {
	LifecycleURL string
	PromptURL    string
	SynthesisURL string
	Token        string
	Timeout      time.Duration
}

type GoogleConfig struct {
	CredentialsFile string
	APIKey          string
	Endpoint        string
	LanguageCode    string
	VoiceLanguage   string
	VoiceName       string
	AudioEncoding   string
}

type ServerConfig struct {
	Addr          string
	UploadDir     string
	UploadFormat  string
	BodyLimit     string
	ShutdownGrace time.Duration
}

// Load resolves configuration from an optional .env file, environment
// variables and defaults. Variables already set in the environment win over
// the .env file.
func Load() (Config, error) {
	if err := loadDotEnv(strings.TrimSpace(os.Getenv("PARLEY_ENV_FILE"))); err != nil {
		return Config{}, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	defaultRules := filepath.Join(home, ".config", "parley", "substitutions.rules")
	rulesPath := strings.TrimSpace(os.Getenv("PARLEY_RULES_FILE"))
	if rulesPath == "" {
		rulesPath = firstExisting(defaultRules)
	}

	backendBase := envOrDefault("PARLEY_BACKEND_URL", "http://localhost:8000")
	serverBase := envOrDefault("PARLEY_SERVER_URL", "http://localhost:3000")

	cfg := Config{
		Deepgram: DeepgramConfig{
			APIKey:      strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:  envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:       envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:    strings.TrimSpace(os.Getenv("DEEPGRAM_LANGUAGE")),
			SmartFormat: envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
			KeepAlive:   envOrDefaultDuration("DEEPGRAM_KEEPALIVE", 8*time.Second),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("PARLEY_FFMPEG_COMMAND", "ffmpeg"),
			PlayerCommand:   envOrDefault("PARLEY_FFPLAY_COMMAND", "ffplay"),
			InputFormat:     envOrDefault("PARLEY_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("PARLEY_AUDIO_INPUT_DEVICE"),
				os.Getenv("DEEPGRAM_PULSE_SOURCE"),
				"default",
			),
			SampleRate: envOrDefaultInt("PARLEY_SAMPLE_RATE", 16000),
			Channels:   envOrDefaultInt("PARLEY_CHANNELS", 1),
		},
		Rules: RulesConfig{
			Path:           rulesPath,
			IterationLimit: envOrDefaultInt("PARLEY_RULE_ITERATION_LIMIT", 30),
		},
		Session: SessionConfig{
			ChunkSize:              envOrDefaultInt("PARLEY_AUDIO_CHUNK_SIZE", 4096),
			StreamingGrace:         time.Duration(firstNonNegativeInt("PARLEY_STREAMING_GRACE_MS", "DEEPGRAM_STREAMING_GRACE_MS", 1000)) * time.Millisecond,
			TurnBudget:             envOrDefaultDuration("PARLEY_TURN_BUDGET", 30*time.Second),
			TickInterval:           envOrDefaultDuration("PARLEY_TICK_INTERVAL", time.Second),
			MaxRestarts:            envOrDefaultInt("PARLEY_MAX_RESTARTS", 10),
			TransientRetries:       envOrDefaultInt("PARLEY_TRANSIENT_RETRIES", 1),
			MaxRecognitionFailures: envOrDefaultInt("PARLEY_MAX_RECOGNITION_FAILURES", 3),
			DefaultDuration:        time.Duration(envOrDefaultInt("PARLEY_SESSION_MINUTES", 30)) * time.Minute,
		},
		Backend: BackendConfig{
			LifecycleURL: envOrDefault("PARLEY_LIFECYCLE_URL", backendBase),
			PromptURL:    envOrDefault("PARLEY_PROMPT_URL", backendBase),
			SynthesisURL: envOrDefault("PARLEY_SYNTHESIS_URL", serverBase),
			Token:        strings.TrimSpace(os.Getenv("PARLEY_BACKEND_TOKEN")),
			Timeout:      envOrDefaultDuration("PARLEY_BACKEND_TIMEOUT", 30*time.Second),
		},
		Google: GoogleConfig{
			CredentialsFile: firstNonEmpty(os.Getenv("PARLEY_GOOGLE_CREDENTIALS"), os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
			APIKey:          strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
			Endpoint:        strings.TrimSpace(os.Getenv("PARLEY_GOOGLE_ENDPOINT")),
			LanguageCode:    envOrDefault("PARLEY_STT_LANGUAGE", "en-US"),
			VoiceLanguage:   envOrDefault("PARLEY_TTS_LANGUAGE", "en-IN"),
			VoiceName:       envOrDefault("PARLEY_TTS_VOICE", "en-IN-Chirp3-HD-Leda"),
			AudioEncoding:   envOrDefault("PARLEY_TTS_ENCODING", "MP3"),
		},
		Server: ServerConfig{
			Addr:          firstNonEmpty(os.Getenv("PARLEY_SERVER_ADDR"), portAddr(os.Getenv("PORT")), ":3000"),
			UploadDir:     envOrDefault("PARLEY_UPLOAD_DIR", "uploads"),
			UploadFormat:  envOrDefault("PARLEY_UPLOAD_FORMAT", "webm"),
			BodyLimit:     envOrDefault("PARLEY_BODY_LIMIT", "25M"),
			ShutdownGrace: envOrDefaultDuration("PARLEY_SHUTDOWN_GRACE", 10*time.Second),
		},
		LogLevel: envOrDefault("PARLEY_LOG_LEVEL", "info"),
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Session.TurnBudget <= 0 {
		cfg.Session.TurnBudget = 30 * time.Second
	}
	if cfg.Session.TickInterval <= 0 {
		cfg.Session.TickInterval = time.Second
	}
	if cfg.Session.MaxRestarts < 0 {
		cfg.Session.MaxRestarts = 10
	}
	if cfg.Session.TransientRetries < 0 {
		cfg.Session.TransientRetries = 1
	}
	if cfg.Session.MaxRecognitionFailures <= 0 {
		cfg.Session.MaxRecognitionFailures = 3
	}
	if cfg.Session.DefaultDuration <= 0 {
		cfg.Session.DefaultDuration = 30 * time.Minute
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

func portAddr(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return ""
	}
	return ":" + port
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envOrDefaultDuration accepts Go durations ("45s") or plain milliseconds.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func firstNonNegativeInt(primary string, secondary string, fallback int) int {
	for _, key := range []string{primary, secondary} {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}
