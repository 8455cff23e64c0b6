package session

import (
	"sync"
	"time"
)

// RevocationStore holds the ids of session tokens ended by LOGOUT before
// their natural expiry. Entries are dropped once the token would have expired
// anyway. Safe for concurrent use.
type RevocationStore struct {
	mu        sync.RWMutex
	entries   map[string]revocation // token id -> entry
	bySubject map[string][]string   // user id -> token ids
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
	closeOnce sync.Once
}

type revocation struct {
	subject   string
	expiresAt time.Time
}

// NewRevocationStore starts a store whose expired entries are purged every
// interval (5 minutes if interval <= 0).
func NewRevocationStore(interval time.Duration) *RevocationStore {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s := &RevocationStore{
		entries:   make(map[string]revocation),
		bySubject: make(map[string][]string),
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Revoke records that token id jti for subject is no longer valid.
func (s *RevocationStore) Revoke(jti, subject string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[jti]; exists {
		return
	}
	s.entries[jti] = revocation{subject: subject, expiresAt: expiresAt}
	if subject != "" {
		s.bySubject[subject] = append(s.bySubject[subject], jti)
	}
}

func (s *RevocationStore) IsRevoked(jti string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[jti]
	return ok
}

// CountForSubject returns how many of subject's tokens are revoked.
func (s *RevocationStore) CountForSubject(subject string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.bySubject[subject])
}

// Count returns the number of tracked revocations.
func (s *RevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *RevocationStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *RevocationStore) cleanupLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes entries whose tokens have expired.
func (s *RevocationStore) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, entry := range s.entries {
		if !now.After(entry.expiresAt) {
			continue
		}
		delete(s.entries, jti)

		if entry.subject == "" {
			continue
		}
		jtis := s.bySubject[entry.subject]
		for i, id := range jtis {
			if id == jti {
				jtis = append(jtis[:i], jtis[i+1:]...)
				break
			}
		}
		if len(jtis) == 0 {
			delete(s.bySubject, entry.subject)
		} else {
			s.bySubject[entry.subject] = jtis
		}
	}
}
