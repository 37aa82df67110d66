package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/sastagpt-go/internal/config"
)

type mockCompleter struct {
	resp openai.ChatCompletionResponse
	err  error
	got  openai.ChatCompletionRequest
}

func (m *mockCompleter) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.got = r
	return m.resp, m.err
}

func TestOpenAIClient_MapsRequestAndChoices(t *testing.T) {
	mock := &mockCompleter{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "first"}},
			{Message: openai.ChatCompletionMessage{Content: "second"}},
		},
	}}

	resp, err := NewOpenAIClientWith(mock).Complete(context.Background(), Request{
		Model:    "gpt-4o",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, []Choice{
		{Role: "assistant", Content: "first"},
		{Role: "assistant", Content: "second"},
	}, resp.Choices)

	require.Equal(t, "gpt-4o", mock.got.Model)
	require.Equal(t, []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}}, mock.got.Messages)
}

func TestOpenAIClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
		code int
	}{
		{"api error", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, KindStatus, 429},
		{"request error", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, KindStatus, 502},
		{"syntax error", &json.SyntaxError{Offset: 1}, KindDecode, 0},
		{"deadline", context.DeadlineExceeded, KindTransport, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOpenAIClientWith(&mockCompleter{err: tt.err}).Complete(context.Background(), Request{})
			ee, ok := AsExchangeError(err)
			require.True(t, ok)
			require.Equal(t, tt.kind, ee.Kind)
			require.Equal(t, tt.code, ee.StatusCode)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	_, err := NewOpenAIClientWith(&mockCompleter{}).Complete(context.Background(), Request{})
	require.ErrorIs(t, err, ErrNoChoices)
}

func TestOpenAIClient_OverHTTP(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"4"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c, err := New(config.LLMConfig{Provider: config.ProviderOpenAI, BaseURL: srv.URL + "/v1"}, "sk-test", srv.Client())
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), Request{Model: "gpt-4o", Messages: []ChatMessage{{Role: "user", Content: "2+2?"}}})
	require.NoError(t, err)
	last, ok := resp.Last()
	require.True(t, ok)
	require.Equal(t, "4", last.Content)
	require.Equal(t, "Bearer sk-test", gotAuth)
	require.Equal(t, "/v1/chat/completions", gotPath)
}

func TestNew_Providers(t *testing.T) {
	c, err := New(config.LLMConfig{Provider: config.ProviderMessages, BaseURL: "http://x"}, "", nil)
	require.NoError(t, err)
	require.IsType(t, &MessagesClient{}, c)

	c, err = New(config.LLMConfig{Provider: config.ProviderOpenAI, BaseURL: "http://x"}, "", nil)
	require.NoError(t, err)
	require.IsType(t, &OpenAIClient{}, c)

	_, err = New(config.LLMConfig{Provider: "smoke-signals"}, "", nil)
	require.Error(t, err)
}
