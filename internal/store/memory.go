package store

import (
	"context"
	"sync"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
)

// MemoryStore keeps sessions in process memory. Suitable for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]session.State
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]session.State)}
}

// Create stores a new session.
func (s *MemoryStore) Create(_ context.Context, st session.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[st.ID]; ok {
		return ErrExists
	}
	s.sessions[st.ID] = st.Clone()
	return nil
}

// Load returns a copy of the stored session.
func (s *MemoryStore) Load(_ context.Context, id string) (session.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return session.State{}, ErrNotFound
	}
	return st.Clone(), nil
}

// AppendTurns adds turns to the end of the stored conversation.
func (s *MemoryStore) AppendTurns(_ context.Context, id string, turns []session.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	for _, turn := range turns {
		st.Conversation = append(st.Conversation, turn.Clone())
	}
	s.sessions[id] = st
	return nil
}

// UpdateThread replaces the session header.
func (s *MemoryStore) UpdateThread(_ context.Context, id string, thread Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	thread.Apply(&st)
	s.sessions[id] = st
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
