// Package server exposes turns and conversations over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/comigor/sastagpt-go/internal/history"
	"github.com/comigor/sastagpt-go/internal/llm"
	"github.com/comigor/sastagpt-go/internal/logger"
	"github.com/comigor/sastagpt-go/internal/session"
	"github.com/comigor/sastagpt-go/internal/turn"
)

const maxRequestBytes = 1 << 20

// Server routes HTTP requests to the turn controller and the store.
type Server struct {
	store *history.Store
	turns session.Submitter
	mux   *http.ServeMux
}

// New builds the router.
func New(store *history.Store, turns session.Submitter) *Server {
	s := &Server{store: store, turns: turns, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /turns", s.handleTurn)
	s.mux.HandleFunc("GET /conversations", s.handleTitles)
	s.mux.HandleFunc("GET /conversations/{title}", s.handleConversation)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// HTTPServer wraps the router with the timeouts used in production.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
}

type turnRequest struct {
	Text  string `json:"text"`
	Title string `json:"title"`
}

type conversationResponse struct {
	Title    string            `json:"title"`
	Messages []history.Message `json:"messages"`
}

type titlesResponse struct {
	Titles []string `json:"titles"`
}

type errorResponse struct {
	Error          string `json:"error"`
	Kind           string `json:"kind,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		logger.L.Error("read body error", "err", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}
	var req turnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	logger.L.Info("turn request", "title", req.Title, "chars", len(req.Text))

	hist := slices.Collect(s.store.Conversation(req.Title))
	res, err := s.turns.Submit(r.Context(), req.Text, req.Title, hist)
	if err != nil {
		status, resp := errorStatus(err)
		logger.L.Error("turn error", "err", err, "status", status, "title", req.Title)
		writeJSON(w, status, resp)
		return
	}

	msgs := append([]history.Message{res.User}, res.Replies...)
	writeJSON(w, http.StatusOK, conversationResponse{Title: res.Title, Messages: msgs})
}

func (s *Server) handleTitles(w http.ResponseWriter, r *http.Request) {
	titles := s.store.Titles()
	if titles == nil {
		titles = []string{}
	}
	writeJSON(w, http.StatusOK, titlesResponse{Titles: titles})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")
	msgs := slices.Collect(s.store.Conversation(title))
	if len(msgs) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse{Title: title, Messages: msgs})
}

func errorStatus(err error) (int, errorResponse) {
	resp := errorResponse{Error: err.Error()}
	switch {
	case errors.Is(err, turn.ErrEmptyInput):
		return http.StatusBadRequest, resp
	case errors.Is(err, turn.ErrTurnInFlight):
		return http.StatusConflict, resp
	case errors.Is(err, context.Canceled):
		return 499, resp
	}
	if ee, ok := llm.AsExchangeError(err); ok {
		resp.Kind = string(ee.Kind)
		resp.UpstreamStatus = ee.StatusCode
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, resp
		}
		return http.StatusBadGateway, resp
	}
	return http.StatusInternalServerError, resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("write response error", "err", err)
	}
}
