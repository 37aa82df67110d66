package llm

import (
	"fmt"
	"net/http"

	"github.com/comigor/sastagpt-go/internal/config"
)

// New creates the completion client selected by cfg.Provider.
func New(cfg config.LLMConfig, apiKey string, httpClient *http.Client) (Client, error) {
	switch cfg.Provider {
	case config.ProviderMessages, "":
		return NewMessagesClient(cfg.BaseURL, apiKey, httpClient), nil
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg.BaseURL, apiKey, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
