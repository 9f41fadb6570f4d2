package settings

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store for tests and ephemeral runs.
type MemStore struct {
	mu    sync.Mutex
	st    Settings
	saves int
	err   error
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{st: Defaults()}
}

// SetErr makes Load and Save fail with err (nil clears it)
func (s *MemStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Saves returns the number of successful saves
func (s *MemStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *MemStore) Load(_ context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Defaults(), s.err
	}
	return s.st.Clone(), nil
}

func (s *MemStore) Save(_ context.Context, st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.st = st.Clone()
	s.saves++
	return nil
}

func (s *MemStore) Close() error { return nil }
