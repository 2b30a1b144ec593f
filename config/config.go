package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port  string
	Debug bool

	DatabaseURL string
	SQLitePath  string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3PublicURL string
	S3AccessKey string
	S3SecretKey string

	Auth0Domain       string
	Auth0Audience     string
	Auth0ClientID     string
	Auth0ClientSecret string
	Auth0CallbackURL  string
	JWTSecret         string
	SessionSecure     bool

	GeminiAPIKey      string
	TextModel         string
	TTSModel          string
	ImageModel        string
	TTSProvider       string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	RenderWorkers int
	RenderDir     string
	JobRetention  time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests can inject values.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:  get("PORT", "8080"),
		Debug: get("DEBUG", "") == "1",

		DatabaseURL: get("DATABASE_URL", ""),
		SQLitePath:  get("SQLITE_PATH", "storytailor.db"),

		S3Endpoint:  get("S3_ENDPOINT", ""),
		S3Region:    get("S3_REGION", "us-east-1"),
		S3Bucket:    get("S3_BUCKET", "storytailor"),
		S3PublicURL: get("S3_PUBLIC_URL", ""),
		S3AccessKey: get("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey: get("AWS_SECRET_ACCESS_KEY", ""),

		Auth0Domain:       get("AUTH0_DOMAIN", ""),
		Auth0Audience:     get("AUTH0_AUDIENCE", ""),
		Auth0ClientID:     get("AUTH0_CLIENT_ID", ""),
		Auth0ClientSecret: get("AUTH0_CLIENT_SECRET", ""),
		Auth0CallbackURL:  get("AUTH0_CALLBACK_URL", ""),
		JWTSecret:         get("JWT_SECRET", ""),
		SessionSecure:     get("SESSION_SECURE", "") == "1",

		GeminiAPIKey:      get("GEMINI_API_KEY", ""),
		TextModel:         get("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		TTSModel:          get("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		ImageModel:        get("GEMINI_IMAGE_MODEL", "imagen-3.0-generate-002"),
		TTSProvider:       strings.ToLower(get("TTS_PROVIDER", "gemini")),
		ElevenLabsAPIKey:  get("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: get("ELEVENLABS_VOICE_ID", ""),

		RenderDir: get("RENDER_DIR", os.TempDir()),
	}

	var errs []error

	workers, err := strconv.Atoi(get("RENDER_WORKERS", "2"))
	if err != nil {
		errs = append(errs, fmt.Errorf("RENDER_WORKERS: %w", err))
	}
	cfg.RenderWorkers = workers

	retention, err := time.ParseDuration(get("JOB_RETENTION", "24h"))
	if err != nil {
		errs = append(errs, fmt.Errorf("JOB_RETENTION: %w", err))
	}
	cfg.JobRetention = retention

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Auth0Enabled reports whether every Auth0 setting is present.
func (c *Config) Auth0Enabled() bool {
	return c.Auth0Domain != "" && c.Auth0Audience != "" && c.Auth0ClientID != "" &&
		c.Auth0ClientSecret != "" && c.Auth0CallbackURL != ""
}

// Validate checks the settings needed to serve requests.
func (c *Config) Validate() error {
	var errs []error
	if c.RenderWorkers < 1 {
		errs = append(errs, errors.New("RENDER_WORKERS must be at least 1"))
	}
	if c.JobRetention <= 0 {
		errs = append(errs, errors.New("JOB_RETENTION must be positive"))
	}
	if c.S3AccessKey == "" || c.S3SecretKey == "" {
		errs = append(errs, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set"))
	}
	if !c.Auth0Enabled() && c.JWTSecret == "" {
		errs = append(errs, errors.New("either all AUTH0_* variables or JWT_SECRET must be set"))
	}
	switch c.TTSProvider {
	case "gemini":
	case "elevenlabs":
		if c.ElevenLabsAPIKey == "" || c.ElevenLabsVoiceID == "" {
			errs = append(errs, errors.New("ELEVENLABS_API_KEY and ELEVENLABS_VOICE_ID must be set when TTS_PROVIDER=elevenlabs"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TTS_PROVIDER %q", c.TTSProvider))
	}
	if c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY must be set"))
	}
	return errors.Join(errs...)
}
