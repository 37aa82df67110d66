package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// ChatCompleter is the subset of *openai.Client used by OpenAIClient.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient adapts an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	api ChatCompleter
}

// NewOpenAIClient creates a client for baseURL. A nil httpClient keeps the
// library default.
func NewOpenAIClient(baseURL, apiKey string, httpClient *http.Client) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	if httpClient != nil {
		config.HTTPClient = httpClient
	}

	return &OpenAIClient{api: openai.NewClientWithConfig(config)}
}

// NewOpenAIClientWith wraps an existing completer, mostly for tests.
func NewOpenAIClientWith(api ChatCompleter) *OpenAIClient {
	return &OpenAIClient{api: api}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, decodeErr(ErrNoChoices)
	}

	out := &Response{Choices: make([]Choice, 0, len(resp.Choices))}
	for _, ch := range resp.Choices {
		role := ch.Message.Role
		if role == "" {
			role = openai.ChatMessageRoleAssistant
		}
		out.Choices = append(out.Choices, Choice{Role: role, Content: ch.Message.Content})
	}
	return out, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusErr(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusErr(reqErr.HTTPStatusCode, err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return decodeErr(err)
	}
	return transportErr(err)
}
