package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	AI       AIConfig
	Session  SessionConfig
	App      AppConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	DataDir string
}

type AIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Enabled reports whether the AI gateway can be constructed. The app
// runs without it, answering every chat turn with a fallback reply.
func (c AIConfig) Enabled() bool {
	return c.APIKey != "" && c.BaseURL != "" && c.Model != ""
}

type SessionConfig struct {
	Secret string
}

type AppConfig struct {
	Name string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 5000,
		},
		Database: DatabaseConfig{
			DataDir: defaultDataDir(),
		},
		AI: AIConfig{
			BaseURL: "https://models.github.ai/inference",
			Model:   "openai/gpt-4o",
		},
		App: AppConfig{
			Name: "Devy Career Advisor",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional .env file and environment
// variables. Values from the process environment win over .env entries,
// which is godotenv's default behavior.
//
// A missing API key is not an error here; the caller decides whether to
// run in AI-disabled mode or refuse to start.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Session.Secret == "" {
		return Config{}, fmt.Errorf("missing required config: session secret. Set it via environment variable DEVY_SESSION_SECRET")
	}
	return cfg, nil
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".devy")
	}
	return "."
}
