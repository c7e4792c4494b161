// Package session holds the session key issued at login.
package session

import (
	"crypto/subtle"
	"sync"

	"go.sigreq.dev/client-sdk/pkg/auth"
)

// Store is a single slot holding the current session key.
//
// It is shared by every operation of an SDK; writes come from login and
// session checks, reads from anything signing in session key mode.
type Store struct {
	mu  sync.RWMutex
	key auth.SessionKey
}

func NewStore() *Store {
	return &Store{}
}

// Set replaces the current key with a copy of key. The previous key is wiped.
func (s *Store) Set(key auth.SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key.Wipe()
	s.key = key.Clone()
}

// Get returns a copy of the current key, or false if there is none.
func (s *Store) Get() (auth.SessionKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.key) == 0 {
		return nil, false
	}
	return s.key.Clone(), true
}

// Clear wipes and drops the current key.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key.Wipe()
	s.key = nil
}

// CompareAndClear clears the store only if it still holds key, and reports
// whether it did. A key replaced since it was read is left alone.
func (s *Store) CompareAndClear(key auth.SessionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.key) == 0 || subtle.ConstantTimeCompare(s.key, key) != 1 {
		return false
	}
	s.key.Wipe()
	s.key = nil
	return true
}
