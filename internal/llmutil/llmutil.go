package llmutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/frdeange/BotPlusAzureOpenAI/llm"
	"github.com/frdeange/BotPlusAzureOpenAI/providers/azureopenai"
	"github.com/frdeange/BotPlusAzureOpenAI/providers/openai"
)

type ClientConfig struct {
	Provider       string
	Endpoint       string
	APIKey         string
	Model          string
	Deployment     string
	APIVersion     string
	RequestTimeout time.Duration
}

func ConfigFromViper() ClientConfig {
	return ClientConfig{
		Provider:       strings.TrimSpace(viper.GetString("llm.provider")),
		Endpoint:       strings.TrimSpace(viper.GetString("llm.endpoint")),
		APIKey:         strings.TrimSpace(viper.GetString("llm.api_key")),
		Model:          strings.TrimSpace(viper.GetString("llm.model")),
		Deployment:     strings.TrimSpace(viper.GetString("llm.azure.deployment")),
		APIVersion:     strings.TrimSpace(viper.GetString("llm.azure.api_version")),
		RequestTimeout: viper.GetDuration("llm.request_timeout"),
	}
}

// ModelFromViper returns the model name completion requests should carry.
// Azure ignores it (deployment routing) but it still labels logs.
func ModelFromViper() string {
	cfg := ConfigFromViper()
	if strings.EqualFold(cfg.Provider, "azure") && cfg.Deployment != "" {
		return cfg.Deployment
	}
	return cfg.Model
}

// StreamingClient is the combined surface the router needs from a
// provider.
type StreamingClient interface {
	llm.Client
	llm.Streamer
}

func ClientFromConfig(cfg ClientConfig) (StreamingClient, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai", "openai_custom":
		c := openai.New(cfg.Endpoint, cfg.APIKey)
		if cfg.RequestTimeout > 0 {
			c.HTTP.Timeout = cfg.RequestTimeout
		}
		return c, nil
	case "azure":
		return azureopenai.New(azureopenai.Config{
			Endpoint:       cfg.Endpoint,
			APIKey:         cfg.APIKey,
			Deployment:     cfg.Deployment,
			APIVersion:     cfg.APIVersion,
			RequestTimeout: cfg.RequestTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
