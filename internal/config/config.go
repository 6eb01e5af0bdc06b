// Package config holds runtime configuration for reasongate.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Provider selects the remote generative backend.
const (
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
)

// Config is hydrated from flags and REASONGATE_* environment variables
// by viper (set up in cmd/reasongate), plus the API key variables.
type Config struct {
	ProjectRoot string
	Provider    string
	Model       string

	GeminiAPIKey    string
	AnthropicAPIKey string

	RequestBudget    time.Duration
	TournamentBudget time.Duration

	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration
	MaxTurns           int

	// RemoteRPS caps outbound requests per second to the remote service.
	RemoteRPS float64

	Debug bool
}

// Load reads configuration from viper, which merges flag values, env
// vars, and defaults. The project root is resolved to an absolute path
// because the secure reader only accepts absolute roots.
func Load() Config {
	cfg := Config{
		ProjectRoot:        viper.GetString("project_root"),
		Provider:           viper.GetString("provider"),
		Model:              viper.GetString("model"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		RequestBudget:      time.Duration(viper.GetInt("request_budget_seconds")) * time.Second,
		TournamentBudget:   time.Duration(viper.GetInt("tournament_budget_seconds")) * time.Second,
		SessionIdleTimeout: viper.GetDuration("session_idle_timeout"),
		SweepInterval:      viper.GetDuration("sweep_interval"),
		MaxTurns:           viper.GetInt("max_turns"),
		RemoteRPS:          viper.GetFloat64("remote_rps"),
		Debug:              viper.GetBool("debug") || os.Getenv("DEBUG") != "",
	}
	if cfg.ProjectRoot != "" {
		if abs, err := filepath.Abs(cfg.ProjectRoot); err == nil {
			cfg.ProjectRoot = abs
		}
	}
	return cfg
}

// Validate checks the pieces that must be present before serving.
func (c Config) Validate() error {
	if c.ProjectRoot == "" {
		return errors.New("project root is required")
	}
	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY environment variable is not set")
		}
	case ProviderClaude:
		if c.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY environment variable is not set")
		}
	default:
		return errors.New("provider must be gemini or claude")
	}
	return nil
}
