// Package turn runs one request/response exchange with the completion
// endpoint per user turn and folds the result into the conversation store.
package turn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/comigor/sastagpt-go/internal/config"
	"github.com/comigor/sastagpt-go/internal/history"
	"github.com/comigor/sastagpt-go/internal/llm"
	"github.com/comigor/sastagpt-go/internal/logger"
)

// Thread states. A conversation thread is busy from submission until its
// exchange settles.
const (
	StateIdle = "Idle"
	StateBusy = "Busy"
)

// Thread triggers.
const (
	TriggerSubmit = "Submit"
	TriggerSettle = "Settle"
)

var (
	// ErrEmptyInput is returned for a turn with no text.
	ErrEmptyInput = errors.New("turn: empty input")
	// ErrTurnInFlight is returned when the conversation already has an
	// exchange in flight.
	ErrTurnInFlight = errors.New("turn: an exchange is already in flight for this conversation")
)

// Result is what a successful turn appended to the store.
type Result struct {
	// Title is the resolved conversation title.
	Title string
	// User is the appended user message.
	User history.Message
	// Replies holds every appended assistant message, in order.
	Replies []history.Message
	// Reply is the last of Replies, the one a feed surfaces.
	Reply history.Message
}

// Controller serializes turns per conversation and records them in a store.
type Controller struct {
	client  llm.Client
	store   *history.Store
	model   string
	timeout time.Duration
	now     func() time.Time
	newID   func() string

	mu      sync.Mutex
	threads map[string]*stateless.StateMachine
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDs replaces the UUID generator used for message IDs.
func WithIDs(newID func() string) Option {
	return func(c *Controller) { c.newID = newID }
}

// New creates a controller. cfg supplies the model name and the per-exchange
// timeout (zero disables it).
func New(client llm.Client, store *history.Store, cfg config.LLMConfig, opts ...Option) *Controller {
	c := &Controller{
		client:  client,
		store:   store,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		now:     time.Now,
		newID:   uuid.NewString,
		threads: make(map[string]*stateless.StateMachine),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) newThread(title string) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateIdle)

	fsm.Configure(StateIdle).
		Permit(TriggerSubmit, StateBusy)

	fsm.Configure(StateBusy).
		OnEntry(func(ctx context.Context, args ...any) error {
			logger.L.Debug("turn: thread busy", "title", title)
			return nil
		}).
		OnExit(func(ctx context.Context, args ...any) error {
			logger.L.Debug("turn: thread idle", "title", title)
			return nil
		}).
		Permit(TriggerSettle, StateIdle)

	return fsm
}

// acquire moves the thread for title from Idle to Busy.
func (c *Controller) acquire(title string) (*stateless.StateMachine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fsm, ok := c.threads[title]
	if !ok {
		fsm = c.newThread(title)
		c.threads[title] = fsm
	}
	if err := fsm.Fire(TriggerSubmit); err != nil {
		return nil, ErrTurnInFlight
	}
	return fsm, nil
}

func (c *Controller) release(title string, fsm *stateless.StateMachine) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := fsm.Fire(TriggerSettle); err != nil {
		logger.L.Warn("FSM settle error", "title", title, "error", err)
	}
}

// Busy reports whether any conversation has an exchange in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fsm := range c.threads {
		if fsm.MustState() == StateBusy {
			return true
		}
	}
	return false
}

// BusyIn reports whether the conversation titled title has an exchange in flight.
func (c *Controller) BusyIn(title string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	fsm, ok := c.threads[title]
	return ok && fsm.MustState() == StateBusy
}

// Submit sends userText, preceded by hist, as one exchange. An empty title
// starts a new conversation named after userText. On success the user
// message and every reply are appended to the store, tagged with the resolved
// title. On failure nothing is appended and the error, an *llm.ExchangeError
// for exchange failures, is returned.
func (c *Controller) Submit(ctx context.Context, userText, title string, hist []history.Message) (*Result, error) {
	if userText == "" {
		return nil, ErrEmptyInput
	}
	resolved := title
	if resolved == "" {
		resolved = userText
	}

	fsm, err := c.acquire(resolved)
	if err != nil {
		logger.L.Warn("turn rejected", "title", resolved, "error", err)
		return nil, err
	}
	defer c.release(resolved, fsm)

	req := llm.Request{
		Model:    c.model,
		Messages: make([]llm.ChatMessage, 0, len(hist)+1),
	}
	for _, m := range hist {
		req.Messages = append(req.Messages, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	req.Messages = append(req.Messages, llm.ChatMessage{Role: string(history.RoleUser), Content: userText})

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	started := c.now()
	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		logger.L.Error("exchange failed", "title", resolved, "history", len(hist), "error", err)
		return nil, err
	}
	if _, ok := resp.Last(); !ok {
		logger.L.Error("exchange failed", "title", resolved, "error", llm.ErrNoChoices)
		return nil, &llm.ExchangeError{Kind: llm.KindDecode, Err: llm.ErrNoChoices}
	}

	user := c.message(history.RoleUser, userText, resolved, started)
	replyAt := c.now()
	replies := make([]history.Message, 0, len(resp.Choices))
	for _, ch := range resp.Choices {
		role := history.Role(ch.Role)
		if role == "" {
			role = history.RoleAssistant
		}
		replies = append(replies, c.message(role, ch.Content, resolved, replyAt))
	}

	batch := append([]history.Message{user}, replies...)
	c.store.Append(batch...)
	logger.L.Info("turn recorded", "title", resolved, "replies", len(replies), "elapsed", replyAt.Sub(started))

	return &Result{
		Title:   resolved,
		User:    user,
		Replies: replies,
		Reply:   replies[len(replies)-1],
	}, nil
}

func (c *Controller) message(role history.Role, content, title string, at time.Time) history.Message {
	return history.Message{
		ID:        c.newID(),
		Role:      role,
		Content:   content,
		Timestamp: history.FormatTimestamp(at),
		Title:     title,
		CreatedAt: at,
	}
}
