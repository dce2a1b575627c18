package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Engine string `env:"ENGINE" envDefault:"whisper"`

	// Self-hosted whisper-ASR servers, tried in order until one succeeds.
	WhisperURLs   []string `env:"WHISPER_URLS" envSeparator:","`
	Language      string   `env:"LANGUAGE" envDefault:"auto"`
	Translate     bool     `env:"TRANSLATE" envDefault:"false"`
	Encode        bool     `env:"ENCODE" envDefault:"true"`
	VadFilter     bool     `env:"VAD_FILTER" envDefault:"false"`
	InitialPrompt string   `env:"INITIAL_PROMPT"`

	Timestamps        bool          `env:"TIMESTAMPS" envDefault:"false"`
	TimestampFormat   string        `env:"TIMESTAMP_FORMAT" envDefault:"auto"`
	TimestampInterval time.Duration `env:"TIMESTAMP_INTERVAL" envDefault:"0s"`
	WordTimestamps    bool          `env:"WORD_TIMESTAMPS" envDefault:"false"`

	EmbedSummary  bool `env:"EMBED_SUMMARY" envDefault:"true"`
	EmbedOutline  bool `env:"EMBED_OUTLINE" envDefault:"true"`
	EmbedKeywords bool `env:"EMBED_KEYWORDS" envDefault:"true"`
	EmbedLink     bool `env:"EMBED_LINK" envDefault:"true"`

	CloudAPIURL     string        `env:"CLOUD_API_URL"`
	CloudUploadURL  string        `env:"CLOUD_UPLOAD_URL"`
	SessionFile     string        `env:"SESSION_FILE" envDefault:".notescribe-session.json"`
	CallbackAddr    string        `env:"CALLBACK_ADDR" envDefault:":41321"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"3s"`
	PollMaxAttempts int           `env:"POLL_MAX_ATTEMPTS" envDefault:"120"`
	UploadChunkSize int64         `env:"UPLOAD_CHUNK_SIZE" envDefault:"6291456"`

	// NotesDir anchors vault-relative media links. Empty means links resolve
	// relative to the note being processed.
	NotesDir        string   `env:"NOTES_DIR"`
	MediaExtensions []string `env:"MEDIA_EXTENSIONS" envSeparator:"," envDefault:"mp3,wav,webm,ogg,flac,m4a,aac,amr,opus,aiff,mp4,m4v,mov,avi,wmv,flv,mpeg,mpg,mkv,3gp"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Debug    bool   `env:"DEBUG" envDefault:"false"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	Engine   string
	LogLevel string
	NotesDir string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.Engine != "" {
		cfg.Engine = overrides.Engine
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.NotesDir != "" {
		cfg.NotesDir = overrides.NotesDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Engine {
	case "whisper":
		if len(c.WhisperURLs) == 0 {
			return fmt.Errorf("ENGINE=whisper requires at least one WHISPER_URLS entry")
		}
	case "cloud":
		if c.CloudAPIURL == "" || c.CloudUploadURL == "" {
			return fmt.Errorf("ENGINE=cloud requires CLOUD_API_URL and CLOUD_UPLOAD_URL")
		}
	default:
		return fmt.Errorf("unknown ENGINE %q (expected whisper or cloud)", c.Engine)
	}

	switch c.TimestampFormat {
	case "auto", "HH:mm:ss", "mm:ss", "ss":
	default:
		return fmt.Errorf("unknown TIMESTAMP_FORMAT %q", c.TimestampFormat)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.PollMaxAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive")
	}
	if c.UploadChunkSize <= 0 {
		return fmt.Errorf("UPLOAD_CHUNK_SIZE must be positive")
	}
	return nil
}

// Exts returns the media extension list lowercased, without leading dots.
func (c *Config) Exts() []string {
	out := make([]string, 0, len(c.MediaExtensions))
	for _, e := range c.MediaExtensions {
		e = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), ".")
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
