// Package state holds per-session conversation state: the current workflow
// phase, recent errors, retry counters and auxiliary context. Sessions are
// created lazily on first touch and live for the process lifetime.
package state

import (
	"sync"
	"time"

	"github.com/sweetpotato0/adaptiverag/errors"
)

// Phase identifies what the workflow is doing for a session right now.
type Phase string

const (
	PhaseInitialized  Phase = "initialized"
	PhaseRetrieving   Phase = "retrieving"
	PhaseGrading      Phase = "grading"
	PhaseGenerating   Phase = "generating"
	PhaseTransforming Phase = "transforming"
	PhaseSearching    Phase = "searching"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
	PhaseRetrying     Phase = "retrying"
)

const (
	// MaxRetries caps top-level retry attempts per session.
	MaxRetries = 3
	// maxConsecutiveForRetry stops retries once this many errors accumulate
	// without an intervening success.
	maxConsecutiveForRetry = 3
	// UnhealthyThreshold marks a session unusable until the caller starts a
	// new one.
	UnhealthyThreshold = 5
	// maxStoredErrors caps the per-session error list, oldest evicted.
	maxStoredErrors = 5
)

// Session is the mutable record kept per session ID.
type Session struct {
	ID                  string
	Phase               Phase
	Errors              []errors.SystemError
	RetryCount          int
	ConsecutiveFailures int
	Context             map[string]any
	LastActivity        time.Time
}

// Health is a point-in-time snapshot of a session's retry budget.
type Health struct {
	Healthy             bool
	ConsecutiveFailures int
	RetryCount          int
}

// Snapshot is an immutable copy of a session, safe to hand to callers.
type Snapshot struct {
	ID                  string
	Phase               Phase
	Errors              []errors.SystemError
	RetryCount          int
	ConsecutiveFailures int
	Context             map[string]any
	LastActivity        time.Time
}

const shardCount = 16

// Store is a sharded session map. Requests for different session IDs
// contend only when they hash to the same shard.
type Store struct {
	shards [shardCount]shard
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].sessions = make(map[string]*Session)
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	// FNV-1a, inlined to avoid allocating a hasher per lookup.
	h := uint32(2166136261)
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return &s.shards[h%shardCount]
}

// get returns the session for id, creating it if needed. Caller must hold
// no shard lock; the returned session must only be touched under fn.
func (s *Store) with(id string, fn func(*Session)) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[id]
	if !ok {
		sess = &Session{
			ID:           id,
			Phase:        PhaseInitialized,
			Context:      make(map[string]any),
			LastActivity: time.Now(),
		}
		sh.sessions[id] = sess
	}
	fn(sess)
}

// Init ensures the session exists and returns a snapshot. Idempotent.
func (s *Store) Init(id string) Snapshot {
	var snap Snapshot
	s.with(id, func(sess *Session) {
		snap = snapshot(sess)
	})
	return snap
}

// SetPhase updates the phase and last-activity marker, merging contextPatch
// into the session context key-wise.
func (s *Store) SetPhase(id string, phase Phase, contextPatch map[string]any) {
	s.with(id, func(sess *Session) {
		sess.Phase = phase
		sess.LastActivity = time.Now()
		for k, v := range contextPatch {
			sess.Context[k] = v
		}
	})
}

// RecordError appends the error (capped, FIFO eviction) and increments the
// consecutive-failure counter.
func (s *Store) RecordError(id string, serr errors.SystemError) {
	s.with(id, func(sess *Session) {
		sess.Errors = append(sess.Errors, serr)
		if len(sess.Errors) > maxStoredErrors {
			sess.Errors = sess.Errors[len(sess.Errors)-maxStoredErrors:]
		}
		sess.ConsecutiveFailures++
		sess.LastActivity = time.Now()
	})
}

// MayRetry reports whether a top-level retry is permitted after an error of
// the given kind. Validation errors are never retried, and retries stop once
// consecutive failures reach the retry stop threshold.
func (s *Store) MayRetry(id string, kind errors.Kind) bool {
	if !kind.Retryable() {
		return false
	}
	allowed := false
	s.with(id, func(sess *Session) {
		allowed = sess.ConsecutiveFailures < maxConsecutiveForRetry &&
			sess.RetryCount < MaxRetries
	})
	return allowed
}

// RecordRetry increments the retry counter.
func (s *Store) RecordRetry(id string) {
	s.with(id, func(sess *Session) {
		sess.RetryCount++
		sess.Phase = PhaseRetrying
		sess.LastActivity = time.Now()
	})
}

// ClearFailures resets both counters. Called when a generation is graded
// useful.
func (s *Store) ClearFailures(id string) {
	s.with(id, func(sess *Session) {
		sess.RetryCount = 0
		sess.ConsecutiveFailures = 0
	})
}

// Health reports whether the session may keep processing requests.
func (s *Store) Health(id string) Health {
	var h Health
	s.with(id, func(sess *Session) {
		h = Health{
			Healthy:             sess.ConsecutiveFailures < UnhealthyThreshold,
			ConsecutiveFailures: sess.ConsecutiveFailures,
			RetryCount:          sess.RetryCount,
		}
	})
	return h
}

// AppendContextList appends value to the list stored under key in the
// session context, trimming the list to cap entries (oldest evicted).
func (s *Store) AppendContextList(id, key string, value any, cap int) {
	s.with(id, func(sess *Session) {
		list, _ := sess.Context[key].([]any)
		list = append(list, value)
		if cap > 0 && len(list) > cap {
			list = list[len(list)-cap:]
		}
		sess.Context[key] = list
	})
}

// ContextValue returns the value stored under key in the session context.
func (s *Store) ContextValue(id, key string) (any, bool) {
	var v any
	var ok bool
	s.with(id, func(sess *Session) {
		v, ok = sess.Context[key]
	})
	return v, ok
}

// Get returns a snapshot of the session, creating it if needed.
func (s *Store) Get(id string) Snapshot {
	return s.Init(id)
}

func snapshot(sess *Session) Snapshot {
	errsCopy := make([]errors.SystemError, len(sess.Errors))
	copy(errsCopy, sess.Errors)
	ctxCopy := make(map[string]any, len(sess.Context))
	for k, v := range sess.Context {
		ctxCopy[k] = v
	}
	return Snapshot{
		ID:                  sess.ID,
		Phase:               sess.Phase,
		Errors:              errsCopy,
		RetryCount:          sess.RetryCount,
		ConsecutiveFailures: sess.ConsecutiveFailures,
		Context:             ctxCopy,
		LastActivity:        sess.LastActivity,
	}
}
