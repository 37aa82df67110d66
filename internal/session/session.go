// Package session owns the state of one chat client: which conversation is
// selected, the pending input, whether a turn is in flight and how the last
// one ended. Front ends read it with State, watch it with Subscribe and change
// it only through Dispatch.
package session

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/comigor/sastagpt-go/internal/history"
	"github.com/comigor/sastagpt-go/internal/logger"
	"github.com/comigor/sastagpt-go/internal/turn"
)

// Submitter runs one turn; *turn.Controller implements it.
type Submitter interface {
	Submit(ctx context.Context, userText, title string, hist []history.Message) (*turn.Result, error)
}

// State is a snapshot of the session.
type State struct {
	// Title is the selected conversation; empty means a new, unnamed one.
	Title string
	Input string
	Busy  bool
	// Titles lists every conversation, in order of first appearance.
	Titles []string
	// Conversation holds the selected conversation's messages.
	Conversation []history.Message
	// Reply is the last reply received in this conversation, if any.
	Reply *history.Message
	// Err is how the last submission failed, if it did.
	Err error
}

// Action is something Dispatch can do to the session.
type Action interface {
	action()
}

// NewChat deselects the current conversation and clears the input.
type NewChat struct{}

// SelectConversation switches to an existing conversation.
type SelectConversation struct {
	Title string
}

// SetInput replaces the pending input text.
type SetInput struct {
	Text string
}

// Submit sends the pending input as a turn in the selected conversation.
type Submit struct{}

func (NewChat) action()            {}
func (SelectConversation) action() {}
func (SetInput) action()           {}
func (Submit) action()             {}

// Session is safe for concurrent use.
type Session struct {
	store *history.Store
	turns Submitter

	mu    sync.Mutex
	title string
	input string
	busy  bool
	reply *history.Message
	err   error
	// gen changes whenever the selected conversation does, so a turn that
	// settles after the user moved on does not drag the view back.
	gen uint64

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int

	unsubscribeStore func()
}

// New creates a session over store. Appends made to store by anyone, not
// only this session, are announced to subscribers.
func New(store *history.Store, turns Submitter) *Session {
	s := &Session{
		store: store,
		turns: turns,
		subs:  make(map[int]func(State)),
	}
	s.unsubscribeStore = store.Subscribe(func(history.Message) { s.notify() })
	return s
}

// Close detaches the session from its store.
func (s *Session) Close() {
	s.unsubscribeStore()
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	st := State{
		Title: s.title,
		Input: s.input,
		Busy:  s.busy,
		Reply: s.reply,
		Err:   s.err,
	}
	s.mu.Unlock()

	st.Titles = s.store.Titles()
	st.Conversation = slices.Collect(s.store.Conversation(st.Title))
	return st
}

// Subscribe calls fn with a fresh snapshot after every state change.
func (s *Session) Subscribe(fn func(State)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Session) notify() {
	s.subMu.Lock()
	if len(s.subs) == 0 {
		s.subMu.Unlock()
		return
	}
	subs := make([]func(State), 0, len(s.subs))
	for _, id := range slices.Sorted(maps.Keys(s.subs)) {
		subs = append(subs, s.subs[id])
	}
	s.subMu.Unlock()

	st := s.State()
	for _, fn := range subs {
		fn(st)
	}
}

func (s *Session) update(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	s.notify()
}

// Dispatch applies a. Only Submit blocks; it returns the turn's error, which
// is also kept in State.Err until the next submission or navigation.
func (s *Session) Dispatch(ctx context.Context, a Action) error {
	switch a := a.(type) {
	case NewChat:
		s.update(func() {
			s.title, s.input, s.reply, s.err = "", "", nil, nil
			s.gen++
		})
	case SelectConversation:
		s.update(func() {
			s.title, s.input, s.reply, s.err = a.Title, "", nil, nil
			s.gen++
		})
	case SetInput:
		s.update(func() { s.input = a.Text })
	case Submit:
		return s.submit(ctx)
	default:
		return fmt.Errorf("session: unknown action %T", a)
	}
	return nil
}

func (s *Session) submit(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return turn.ErrTurnInFlight
	}
	text, title, gen := s.input, s.title, s.gen
	s.busy, s.err = true, nil
	s.mu.Unlock()
	s.notify()

	var res *turn.Result
	defer func() {
		s.update(func() {
			s.busy = false
			if err != nil {
				s.err = err
				return
			}
			if s.gen != gen {
				return
			}
			s.title = res.Title
			s.reply = &res.Reply
			if s.input == text {
				s.input = ""
			}
		})
	}()

	hist := slices.Collect(s.store.Conversation(title))
	res, err = s.turns.Submit(ctx, text, title, hist)
	if err != nil {
		logger.L.Debug("session submit failed", "title", title, "error", err)
		return err
	}
	return nil
}
