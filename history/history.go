// Package history records question/answer exchanges per session so past
// turns can feed contextual retrieval and offline review.
package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is one question/answer exchange.
type Entry struct {
	ID        string         `json:"id" bson:"_id"`
	SessionID string         `json:"session_id" bson:"session_id"`
	Question  string         `json:"question" bson:"question"`
	Response  string         `json:"response" bson:"response"`
	Metadata  map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
}

// Store persists exchanges.
type Store interface {
	// Append records an exchange. The entry ID is assigned if empty.
	Append(ctx context.Context, entry *Entry) error

	// Recent returns up to limit entries for the session, newest last.
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)

	// Clear removes all entries for the session.
	Clear(ctx context.Context, sessionID string) error

	// Close releases any backing resources.
	Close(ctx context.Context) error
}

// InMemoryStore keeps history in a process-local map.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	nextID  int64
}

// NewInMemoryStore creates an empty in-memory history store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string][]Entry)}
}

func (s *InMemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.ID == "" {
		s.nextID++
		entry.ID = formatID(s.nextID)
	}
	s.entries[entry.SessionID] = append(s.entries[entry.SessionID], *entry)
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.entries[sessionID]
	out := make([]Entry, len(all))
	copy(out, all)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *InMemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

func (s *InMemoryStore) Close(context.Context) error { return nil }

func formatID(n int64) string {
	const digits = "0123456789"
	if n == 0 {
		return "hist:0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%10]
		n /= 10
	}
	return "hist:" + string(buf[i:])
}
