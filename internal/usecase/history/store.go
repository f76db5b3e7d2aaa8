// Package history keeps the process-wide bounded chat history.
package history

import (
	"sync"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// Store is a bounded ring of messages. Appends go to the tail; overflow
// evicts the oldest. Safe for concurrent use. Append order is the order in
// which callers finish, not the order requests started.
type Store struct {
	mu       sync.RWMutex
	buf      []domain.Message
	head     int // index of the oldest message
	size     int
	capacity int
}

// New creates a store holding at most capacity messages (minimum 1).
func New(capacity int) *Store {
	capacity = max(capacity, 1)
	return &Store{buf: make([]domain.Message, capacity), capacity: capacity}
}

// Capacity returns the maximum number of retained messages.
func (s *Store) Capacity() int { return s.capacity }

// Append adds one message.
func (s *Store) Append(role domain.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(domain.Message{Role: role, Content: content})
}

// AppendTurn adds a user message and its reply as one unit, so concurrent
// turns never interleave.
func (s *Store) AppendTurn(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(domain.UserMessage(user))
	s.push(domain.AssistantMessage(assistant))
}

// Snapshot returns a copy of the history, oldest first.
func (s *Store) Snapshot() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Message, s.size)
	for i := range s.size {
		out[i] = s.buf[(s.head+i)%s.capacity]
	}
	return out
}

// Len returns the number of retained messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Clear empties the history. It is not reseeded.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// Seed clears the history and appends one system message.
func (s *Store) Seed(systemPrompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.push(domain.SystemMessage(systemPrompt))
}

func (s *Store) reset() {
	clear(s.buf)
	s.head, s.size = 0, 0
}

func (s *Store) push(m domain.Message) {
	if s.size < s.capacity {
		s.buf[(s.head+s.size)%s.capacity] = m
		s.size++
		return
	}
	s.buf[s.head] = m
	s.head = (s.head + 1) % s.capacity
}
