package provider

import (
	"context"
	"log"
	"time"

	"governance_council/internal/config"
	"governance_council/internal/domain"
)

// FromConfig wires one completer per provider. With mock enabled every
// provider is served by MockClient. A provider whose client cannot be built
// is left unregistered; its agents then fail with provider_rejected.
func FromConfig(ctx context.Context, cfg config.Config, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	router := NewRouter(RouterConfig{
		Retries: defaultRetries,
		Logger:  logger,
	})

	if cfg.Council.Mock {
		for _, p := range domain.Providers {
			router.Register(p, MockClient{MaxDelay: 300 * time.Millisecond}, Options{})
		}
		logger.Printf("provider router using mock completers providers=%d", len(domain.Providers))
		return router
	}

	for _, p := range domain.Providers {
		pc := cfg.Provider(string(p))
		completer, err := buildCompleter(ctx, p, pc)
		if err != nil {
			logger.Printf("provider disabled provider=%s err=%v", p, err)
			continue
		}
		router.Register(p, completer, Options{
			Timeout: time.Duration(pc.TimeoutMS) * time.Millisecond,
			Retries: pc.Retries,
		})
		logger.Printf("provider registered provider=%s model=%s", p, pc.Model)
	}
	return router
}

func buildCompleter(ctx context.Context, p domain.Provider, pc config.ProviderConfig) (Completer, error) {
	switch p {
	case domain.ProviderOpenAI:
		return NewResponsesClient(ResponsesConfig{
			Endpoint: pc.BaseURL,
			Model:    pc.Model,
			APIKey:   pc.APIKey(),
		})
	case domain.ProviderAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			Endpoint: pc.BaseURL,
			Model:    pc.Model,
			APIKey:   pc.APIKey(),
		})
	case domain.ProviderGemini:
		return NewGeminiClient(ctx, GeminiConfig{
			Model:   pc.Model,
			APIKey:  pc.APIKey(),
			BaseURL: pc.BaseURL,
		})
	default:
		return NewChatClient(ChatConfig{
			Provider: p,
			BaseURL:  pc.BaseURL,
			Model:    pc.Model,
			APIKey:   pc.APIKey(),
		})
	}
}
