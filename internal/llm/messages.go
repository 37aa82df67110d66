package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	maxResponseBytes = 8 << 20
	maxErrorBody     = 4 << 10
)

// MessagesClient speaks the plain messages contract: POST
// {"messages":[{role,content}...]} with a bearer token, answered by
// {"choices":[...]}.
type MessagesClient struct {
	url    string
	apiKey string
	http   *http.Client
}

// NewMessagesClient returns a client for the endpoint at url. A nil
// httpClient means http.DefaultClient.
func NewMessagesClient(url, apiKey string, httpClient *http.Client) *MessagesClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &MessagesClient{url: url, apiKey: apiKey, http: httpClient}
}

type messagesRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages"`
}

type messagesResponse struct {
	Choices []wireChoice `json:"choices"`
}

// wireChoice tolerates the shapes seen in the wild: "message" as a bare
// string, "message" as an {role, content} object, or a top-level "content".
type wireChoice struct {
	Role    string          `json:"role"`
	Message json.RawMessage `json:"message"`
	Content *string         `json:"content"`
}

func (c wireChoice) choice() (Choice, error) {
	out := Choice{Role: c.Role}
	msg := bytes.TrimSpace(c.Message)

	switch {
	case len(msg) == 0 || string(msg) == "null":
		if c.Content != nil {
			out.Content = *c.Content
		}
	case msg[0] == '"':
		if err := json.Unmarshal(msg, &out.Content); err != nil {
			return Choice{}, fmt.Errorf("decode choice message: %w", err)
		}
	case msg[0] == '{':
		var inner ChatMessage
		if err := json.Unmarshal(msg, &inner); err != nil {
			return Choice{}, fmt.Errorf("decode choice message: %w", err)
		}
		out.Content = inner.Content
		if out.Role == "" {
			out.Role = inner.Role
		}
	default:
		return Choice{}, fmt.Errorf("unexpected choice message %s", msg)
	}

	if out.Role == "" {
		out.Role = "assistant"
	}
	return out, nil
}

// Complete sends one exchange and decodes every returned choice.
func (c *MessagesClient) Complete(ctx context.Context, req Request) (*Response, error) {
	payload := messagesRequest{Model: req.Model, Messages: req.Messages}
	if payload.Messages == nil {
		payload.Messages = []ChatMessage{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, transportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, statusErr(resp.StatusCode, errors.New(msg))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportErr(fmt.Errorf("read response: %w", err))
	}

	var decoded messagesResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, decodeErr(fmt.Errorf("decode response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return nil, decodeErr(ErrNoChoices)
	}

	out := &Response{Choices: make([]Choice, 0, len(decoded.Choices))}
	for i, wc := range decoded.Choices {
		ch, err := wc.choice()
		if err != nil {
			return nil, decodeErr(fmt.Errorf("choice %d: %w", i, err))
		}
		out.Choices = append(out.Choices, ch)
	}
	return out, nil
}
