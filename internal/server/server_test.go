package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/sastagpt-go/internal/config"
	"github.com/comigor/sastagpt-go/internal/history"
	"github.com/comigor/sastagpt-go/internal/llm"
	"github.com/comigor/sastagpt-go/internal/turn"
)

type stubLLM struct {
	err error
}

func (s stubLLM) Complete(ctx context.Context, r llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Choices: []llm.Choice{{Role: "assistant", Content: "4"}}}, nil
}

func newTestServer(client llm.Client) (*httptest.Server, *history.Store) {
	store := history.NewStore()
	srv := New(store, turn.New(client, store, config.LLMConfig{}))
	return httptest.NewServer(srv), store
}

func postTurn(t *testing.T, base, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(base+"/turns", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestTurnAndConversations(t *testing.T) {
	ts, store := newTestServer(stubLLM{})
	defer ts.Close()

	resp := postTurn(t, ts.URL, `{"text":"2+2?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got conversationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "2+2?", got.Title)
	require.Len(t, got.Messages, 2)
	require.Equal(t, history.RoleUser, got.Messages[0].Role)
	require.Equal(t, "2+2?", got.Messages[0].Content)
	require.Equal(t, history.RoleAssistant, got.Messages[1].Role)
	require.Equal(t, "4", got.Messages[1].Content)
	require.Equal(t, 2, store.Len())

	resp = postTurn(t, ts.URL, `{"text":"and 3+3?","title":"2+2?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	titlesResp, err := http.Get(ts.URL + "/conversations")
	require.NoError(t, err)
	defer titlesResp.Body.Close()
	var titles titlesResponse
	require.NoError(t, json.NewDecoder(titlesResp.Body).Decode(&titles))
	require.Equal(t, []string{"2+2?"}, titles.Titles)

	convResp, err := http.Get(ts.URL + "/conversations/" + url.PathEscape("2+2?"))
	require.NoError(t, err)
	defer convResp.Body.Close()
	require.Equal(t, http.StatusOK, convResp.StatusCode)
	var conv conversationResponse
	require.NoError(t, json.NewDecoder(convResp.Body).Decode(&conv))
	require.Len(t, conv.Messages, 4)
	require.Equal(t, "and 3+3?", conv.Messages[2].Content)
}

func TestTurnErrors(t *testing.T) {
	tests := []struct {
		name   string
		client llm.Client
		body   string
		status int
		kind   string
	}{
		{"bad json", stubLLM{}, `{`, http.StatusBadRequest, ""},
		{"empty text", stubLLM{}, `{"text":""}`, http.StatusBadRequest, ""},
		{
			"upstream status",
			stubLLM{err: &llm.ExchangeError{Kind: llm.KindStatus, StatusCode: 401, Err: errors.New("unauthorized")}},
			`{"text":"hi"}`, http.StatusBadGateway, "status",
		},
		{
			"upstream timeout",
			stubLLM{err: &llm.ExchangeError{Kind: llm.KindTransport, Err: context.DeadlineExceeded}},
			`{"text":"hi"}`, http.StatusGatewayTimeout, "transport",
		},
		{"unexpected", stubLLM{err: errors.New("weird")}, `{"text":"hi"}`, http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, store := newTestServer(tt.client)
			defer ts.Close()

			resp := postTurn(t, ts.URL, tt.body)
			require.Equal(t, tt.status, resp.StatusCode)
			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.NotEmpty(t, body.Error)
			require.Equal(t, tt.kind, body.Kind)
			require.Zero(t, store.Len())
		})
	}
}

func TestErrorStatus_InFlight(t *testing.T) {
	status, _ := errorStatus(turn.ErrTurnInFlight)
	require.Equal(t, http.StatusConflict, status)
}

func TestConversationNotFound(t *testing.T) {
	ts, _ := newTestServer(stubLLM{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/conversations/nothing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEmptyTitles(t *testing.T) {
	ts, _ := newTestServer(stubLLM{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()
	var titles titlesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&titles))
	require.NotNil(t, titles.Titles)
	require.Empty(t, titles.Titles)
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(stubLLM{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
