package llm

import (
	"context"
)

// Client is the one operation the turn controller needs from a completion
// endpoint; it is easy to mock in tests.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ChatMessage is one entry of the conversation sent upstream.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a full exchange: prior history followed by the new user turn.
type Request struct {
	Model    string
	Messages []ChatMessage
}

// Choice is one reply message returned by the endpoint.
type Choice struct {
	Role    string
	Content string
}

// Response holds every reply choice in the order the endpoint sent them.
type Response struct {
	Choices []Choice
}

// Last returns the final choice, which is what a chat feed surfaces as "the" reply.
func (r *Response) Last() (Choice, bool) {
	if r == nil || len(r.Choices) == 0 {
		return Choice{}, false
	}
	return r.Choices[len(r.Choices)-1], true
}
