package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves into an empty directory so no stray .env is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8100", cfg.ListenAddr)
	assert.Equal(t, DevSecretKey, cfg.SecretKey)
	assert.True(t, cfg.UsesDevSecret())
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, "https://api.openai.com/v1", cfg.OpenAIBaseURL)
	assert.Equal(t, 500, cfg.MaxTokens)
	assert.Equal(t, 60*time.Second, cfg.ModelTimeout)
	assert.Equal(t, "static/uploads", cfg.UploadDir)
	assert.Equal(t, int64(16<<20), cfg.MaxUploadBytes)
	assert.Equal(t, StoreSQLite, cfg.SessionStore)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SECRET_KEY", "s3cret")
	t.Setenv("SESSION_STORE", StoreMemory)
	t.Setenv("MODEL_TIMEOUT", "5s")
	t.Setenv("MAX_TOKENS", "64")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.SecretKey)
	assert.False(t, cfg.UsesDevSecret())
	assert.Equal(t, StoreMemory, cfg.SessionStore)
	assert.Equal(t, 5*time.Second, cfg.ModelTimeout)
	assert.Equal(t, 64, cfg.MaxTokens)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	t.Setenv("OPENAI_API_KEY", "")
	os.Unsetenv("OPENAI_API_KEY")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OPENAI_API_KEY=sk-from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("OPENAI_API_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-dotenv", cfg.OpenAIAPIKey)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "visionpad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("openai_api_key: sk-file\nlisten_addr: \":9000\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			OpenAIAPIKey:   "sk",
			SessionStore:   StoreSQLite,
			DBPath:         "x.db",
			MaxTokens:      500,
			MaxUploadBytes: 16 << 20,
			SessionTTL:     time.Hour,
			UploadDir:      "uploads",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"memory store without db path", func(c *Config) { c.SessionStore = StoreMemory; c.DBPath = "" }, false},
		{"missing api key", func(c *Config) { c.OpenAIAPIKey = "" }, true},
		{"unknown store", func(c *Config) { c.SessionStore = "redis" }, true},
		{"sqlite without path", func(c *Config) { c.DBPath = "" }, true},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, true},
		{"zero upload cap", func(c *Config) { c.MaxUploadBytes = 0 }, true},
		{"negative timeout", func(c *Config) { c.ModelTimeout = -time.Second }, true},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }, true},
		{"no upload dir", func(c *Config) { c.UploadDir = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
