// Package factory constructs providers from project configuration.
package factory

import (
	"log/slog"
	"os"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/internal/provider/anthropic"
	"github.com/loomhq/loom/internal/provider/openai"
	"github.com/loomhq/loom/pkg/models"
)

// New builds a provider from a ProviderConfig. The API key is read from the
// environment variable named by the config; a missing key is a CONFIG_ERROR.
func New(cfg models.ProviderConfig, logger *slog.Logger) (provider.Provider, error) {
	key := os.Getenv(cfg.APIKeyEnvVar)
	if key == "" {
		return nil, fault.New(fault.CodeConfig, "environment variable %s is not set", cfg.APIKeyEnvVar).
			With("provider", cfg.Provider)
	}

	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(anthropic.Config{APIKey: key, Model: cfg.Model, Logger: logger}), nil
	case "openai":
		return openai.New(openai.Config{APIKey: key, Model: cfg.Model, Logger: logger}), nil
	default:
		return nil, fault.New(fault.CodeConfig, "unknown provider %q", cfg.Provider)
	}
}
