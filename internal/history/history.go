// Package history holds the flat, process-lifetime list of chat messages and
// derives per-conversation views and the conversation title list from it.
//
// A Store can additionally mirror its messages into a private in-memory SQLite
// index. If opening the index or writing to it fails, the store logs and keeps
// serving from its in-memory copy.
package history

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/comigor/sastagpt-go/internal/config"
	"github.com/comigor/sastagpt-go/internal/logger"
)

// Store is the conversation store. The zero value is not usable; call NewStore.
type Store struct {
	mu       sync.RWMutex
	messages []Message
	titles   []string
	seen     map[string]struct{}
	index    *sqliteIndex

	subMu   sync.Mutex
	subs    map[int]func(Message)
	nextSub int
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		seen: make(map[string]struct{}),
		subs: make(map[int]func(Message)),
	}
}

// NewSQLiteStore returns a store backed by an in-memory SQLite index. It never
// fails: when the index cannot be opened the store is memory-only.
func NewSQLiteStore() *Store {
	s := NewStore()
	idx, err := openIndex()
	if err != nil {
		logger.L.Warn("sqlite open failed; using in-memory history", "error", err)
		return s
	}
	s.index = idx
	logger.L.Info("sqlite history index initialized")
	return s
}

// Open builds a store for the configured backend.
func Open(backend string) (*Store, error) {
	switch backend {
	case config.HistoryMemory, "":
		return NewStore(), nil
	case config.HistorySQLite:
		return NewSQLiteStore(), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}

// Append adds msgs to the end of the list as one unit and notifies
// subscribers once per message, in order.
func (s *Store) Append(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}

	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	for _, m := range msgs {
		if _, ok := s.seen[m.Title]; !ok {
			s.seen[m.Title] = struct{}{}
			s.titles = append(s.titles, m.Title)
		}
	}
	if s.index != nil {
		if err := s.index.insert(msgs); err != nil {
			logger.L.Error("failed to store messages in sqlite; falling back to memory", "error", err)
			s.dropIndexLocked()
		}
	}
	s.mu.Unlock()

	s.subMu.Lock()
	subs := make([]func(Message), 0, len(s.subs))
	for _, id := range slices.Sorted(maps.Keys(s.subs)) {
		subs = append(subs, s.subs[id])
	}
	s.subMu.Unlock()

	for _, m := range msgs {
		for _, fn := range subs {
			fn(m)
		}
	}
}

// Conversation returns the messages tagged with title, in insertion order.
// The sequence is evaluated on each range, so it reflects appends made since
// it was created. An empty title (a new, unnamed conversation) yields nothing.
func (s *Store) Conversation(title string) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		if title == "" {
			return
		}

		s.mu.RLock()
		idx := s.index
		snapshot := s.messages
		s.mu.RUnlock()

		if idx != nil {
			msgs, err := idx.list(title)
			if err == nil {
				for _, m := range msgs {
					if !yield(m) {
						return
					}
				}
				return
			}
			logger.L.Warn("sqlite conversation query failed; reading from memory", "title", title, "error", err)
		}

		// Messages are never mutated, so the snapshot can be read unlocked.
		for _, m := range snapshot {
			if m.Title != title {
				continue
			}
			if !yield(m) {
				return
			}
		}
	}
}

// Titles returns the distinct conversation titles ordered by first appearance.
func (s *Store) Titles() []string {
	s.mu.RLock()
	idx := s.index
	titles := slices.Clone(s.titles)
	s.mu.RUnlock()

	if idx != nil {
		out, err := idx.titles()
		if err == nil {
			return out
		}
		logger.L.Warn("sqlite titles query failed; reading from memory", "error", err)
	}
	return titles
}

// Messages returns a copy of every message across all conversations.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Len returns the total number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Indexed reports whether reads are served by the SQLite index.
func (s *Store) Indexed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index != nil
}

// Subscribe registers fn to be called for every appended message. The
// returned function removes the subscription.
func (s *Store) Subscribe(fn func(Message)) (cancel func()) {
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

// Close releases the SQLite index, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	err := s.index.close()
	s.index = nil
	return err
}

func (s *Store) dropIndexLocked() {
	if cerr := s.index.close(); cerr != nil {
		logger.L.Warn("sqlite close error after write failure", "error", cerr)
	}
	s.index = nil
}
