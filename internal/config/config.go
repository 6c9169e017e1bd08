// Package config loads server settings from the environment, an optional
// .env file, and an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"

	// DevSecretKey is used when SECRET_KEY is unset. Fine for local use only.
	DevSecretKey = "dev_secret_key"
)

// Config holds application configuration
type Config struct {
	ListenAddr string
	SecretKey  string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	MaxTokens     int
	ModelTimeout  time.Duration

	UploadDir      string
	MaxUploadBytes int64

	SessionStore string
	DBPath       string
	SessionTTL   time.Duration
	SecureCookie bool

	LogLevel     string
	LogFile      string
	TelemetryDir string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8100")
	v.SetDefault("secret_key", DevSecretKey)
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("openai_model", "gpt-4o")
	v.SetDefault("max_tokens", 500)
	v.SetDefault("model_timeout", "60s")
	v.SetDefault("upload_dir", "static/uploads")
	v.SetDefault("max_upload_bytes", 16<<20)
	v.SetDefault("session_store", StoreSQLite)
	v.SetDefault("db_path", "visionpad.db")
	v.SetDefault("session_ttl", "24h")
	v.SetDefault("secure_cookie", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("telemetry_dir", "")
}

// Load reads .env (if present), then CONFIG_FILE (if set), then the process
// environment. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		ListenAddr:     v.GetString("listen_addr"),
		SecretKey:      v.GetString("secret_key"),
		OpenAIAPIKey:   v.GetString("openai_api_key"),
		OpenAIBaseURL:  v.GetString("openai_base_url"),
		OpenAIModel:    v.GetString("openai_model"),
		MaxTokens:      v.GetInt("max_tokens"),
		ModelTimeout:   v.GetDuration("model_timeout"),
		UploadDir:      v.GetString("upload_dir"),
		MaxUploadBytes: v.GetInt64("max_upload_bytes"),
		SessionStore:   v.GetString("session_store"),
		DBPath:         v.GetString("db_path"),
		SessionTTL:     v.GetDuration("session_ttl"),
		SecureCookie:   v.GetBool("secure_cookie"),
		LogLevel:       v.GetString("log_level"),
		LogFile:        v.GetString("log_file"),
		TelemetryDir:   v.GetString("telemetry_dir"),
	}
}

// Validate reports the first setting that can't work.
func (c *Config) Validate() error {
	switch {
	case c.OpenAIAPIKey == "":
		return errors.New("OPENAI_API_KEY is required")
	case c.SessionStore != StoreSQLite && c.SessionStore != StoreMemory:
		return fmt.Errorf("unknown SESSION_STORE %q (want %q or %q)", c.SessionStore, StoreSQLite, StoreMemory)
	case c.SessionStore == StoreSQLite && c.DBPath == "":
		return errors.New("DB_PATH is required for the sqlite session store")
	case c.MaxTokens <= 0:
		return fmt.Errorf("MAX_TOKENS must be positive, got %d", c.MaxTokens)
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	case c.ModelTimeout < 0:
		return fmt.Errorf("MODEL_TIMEOUT must not be negative, got %s", c.ModelTimeout)
	case c.SessionTTL <= 0:
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	case c.UploadDir == "":
		return errors.New("UPLOAD_DIR is required")
	}
	return nil
}

// UsesDevSecret reports whether sessions are signed with the built-in key.
func (c *Config) UsesDevSecret() bool {
	return c.SecretKey == DevSecretKey
}
