package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds the development service configuration
type ServerConfig struct {
	Port           int
	Username       string
	Password       string
	JWTSecret      string
	TokenTTL       time.Duration
	CharactersFile string // JSON or YAML roster; empty uses the built-in sample
	SessionTimeout time.Duration

	GeminiAPIKey     string
	GeminiModel      string
	GoogleSTTEnabled bool
	ElevenLabsAPIKey string
}

// LoadServer loads the development service configuration from environment
// variables with defaults
func LoadServer() (*ServerConfig, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &ServerConfig{
		Port:           8000,
		Username:       "aarda",
		Password:       "aarda",
		JWTSecret:      "aarda-dev-secret",
		TokenTTL:       24 * time.Hour,
		SessionTimeout: 30 * time.Minute,
		GeminiModel:    "gemini-2.0-flash",
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	if v := os.Getenv("AARDA_DEV_USERNAME"); v != "" {
		config.Username = v
	}
	if v := os.Getenv("AARDA_DEV_PASSWORD"); v != "" {
		config.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		config.JWTSecret = v
	}
	config.CharactersFile = os.Getenv("AARDA_DEV_CHARACTERS")

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		config.GeminiModel = v
	}

	if v := os.Getenv("GOOGLE_STT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid GOOGLE_STT_ENABLED: %w", err)
		}
		config.GoogleSTTEnabled = enabled
	}

	config.ElevenLabsAPIKey = os.Getenv("ELEVEN_LABS_API_KEY")

	return config, nil
}
