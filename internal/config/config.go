// Package config loads client and development-server configuration from
// environment variables, an optional .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLanguage    = "en"
	DefaultMood        = "neutral"
	DefaultHTTPTimeout = 15 * time.Second
)

// Duration is a time.Duration read from strings such as "15s"
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config holds the chat client configuration
type Config struct {
	HTTPAPIURL   string   `json:"http_api_url" toml:"http_api_url" yaml:"http_api_url"`
	WSAPIURL     string   `json:"ws_api_url" toml:"ws_api_url" yaml:"ws_api_url"`
	APIUsername  string   `json:"api_username" toml:"api_username" yaml:"api_username"`
	APIPassword  string   `json:"api_password" toml:"api_password" yaml:"api_password"`
	UserUUID     string   `json:"user_uuid" toml:"user_uuid" yaml:"user_uuid"`
	Language     string   `json:"language" toml:"language" yaml:"language"`
	Mood         string   `json:"mood" toml:"mood" yaml:"mood"`
	Character    string   `json:"character" toml:"character" yaml:"character"`
	PlayerID     int      `json:"player_id" toml:"player_id" yaml:"player_id"`
	SceneID      int      `json:"scene_id" toml:"scene_id" yaml:"scene_id"`
	AudioSupport bool     `json:"audio_support" toml:"audio_support" yaml:"audio_support"`
	HTTPTimeout  Duration `json:"http_timeout" toml:"http_timeout" yaml:"http_timeout"`
}

// legacyConfig is the PascalCase JSON layout used by existing game projects
type legacyConfig struct {
	HTTPAPIURL  string `json:"HttpApiUrl"`
	WSAPIURL    string `json:"WsApiUrl"`
	APIUsername string `json:"ApiUsername"`
	APIPassword string `json:"ApiPassword"`
}

// Default returns a configuration holding only defaults
func Default() *Config {
	return &Config{
		Language:    DefaultLanguage,
		Mood:        DefaultMood,
		HTTPTimeout: Duration(DefaultHTTPTimeout),
	}
}

// Load loads configuration: defaults, then the optional file at path, then
// AARDA_* environment variables (a .env file is read if present).
// An empty user uuid is replaced by a random one.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.finish()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromJSON reads the PascalCase JSON layout
// ({"HttpApiUrl", "WsApiUrl", "ApiUsername", "ApiPassword"}) over defaults.
func LoadFromJSON(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decodeJSON(data); err != nil {
		return nil, err
	}
	cfg.finish()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = c.decodeJSON(data)
	case ".toml":
		_, err = toml.Decode(string(data), c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// decodeJSON accepts both the snake_case and the PascalCase layouts
func (c *Config) decodeJSON(data []byte) error {
	if err := sonic.ConfigStd.Unmarshal(data, c); err != nil {
		return err
	}

	var legacy legacyConfig
	if err := sonic.ConfigStd.Unmarshal(data, &legacy); err != nil {
		return err
	}
	if legacy.HTTPAPIURL != "" {
		c.HTTPAPIURL = legacy.HTTPAPIURL
	}
	if legacy.WSAPIURL != "" {
		c.WSAPIURL = legacy.WSAPIURL
	}
	if legacy.APIUsername != "" {
		c.APIUsername = legacy.APIUsername
	}
	if legacy.APIPassword != "" {
		c.APIPassword = legacy.APIPassword
	}
	return nil
}

func (c *Config) applyEnv() error {
	stringVars := map[string]*string{
		"AARDA_HTTP_API_URL": &c.HTTPAPIURL,
		"AARDA_WS_API_URL":   &c.WSAPIURL,
		"AARDA_API_USERNAME": &c.APIUsername,
		"AARDA_API_PASSWORD": &c.APIPassword,
		"AARDA_USER_UUID":    &c.UserUUID,
		"AARDA_LANGUAGE":     &c.Language,
		"AARDA_MOOD":         &c.Mood,
		"AARDA_CHARACTER":    &c.Character,
	}
	for key, field := range stringVars {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}

	intVars := map[string]*int{
		"AARDA_PLAYER_ID": &c.PlayerID,
		"AARDA_SCENE_ID":  &c.SceneID,
	}
	for key, field := range intVars {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*field = n
		}
	}

	if v := os.Getenv("AARDA_AUDIO_SUPPORT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AARDA_AUDIO_SUPPORT: %w", err)
		}
		c.AudioSupport = b
	}

	if v := os.Getenv("AARDA_HTTP_TIMEOUT"); v != "" {
		if err := c.HTTPTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("invalid AARDA_HTTP_TIMEOUT: %w", err)
		}
	}

	return nil
}

func (c *Config) finish() {
	c.HTTPAPIURL = strings.TrimRight(strings.TrimSpace(c.HTTPAPIURL), "/")
	c.WSAPIURL = strings.TrimSpace(c.WSAPIURL)
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Mood == "" {
		c.Mood = DefaultMood
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = Duration(DefaultHTTPTimeout)
	}
	if c.UserUUID == "" {
		c.UserUUID = uuid.NewString()
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAPIURL == "" {
		errs = append(errs, errors.New("http_api_url is required"))
	}
	if c.WSAPIURL == "" {
		errs = append(errs, errors.New("ws_api_url is required"))
	}
	return errors.Join(errs...)
}

// Timeout returns the HTTP timeout as a time.Duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.HTTPTimeout)
}
