package state

import (
	"fmt"
	"sync"
	"testing"

	"github.com/sweetpotato0/adaptiverag/errors"
)

func TestInitIsIdempotent(t *testing.T) {
	s := NewStore()

	first := s.Init("sess-1")
	if first.Phase != PhaseInitialized {
		t.Fatalf("expected initialized phase, got %s", first.Phase)
	}

	s.SetPhase("sess-1", PhaseRetrieving, nil)
	second := s.Init("sess-1")
	if second.Phase != PhaseRetrieving {
		t.Fatalf("Init must not reset an existing session, got %s", second.Phase)
	}
}

func TestRecordErrorCapsList(t *testing.T) {
	s := NewStore()
	for i := 0; i < 8; i++ {
		s.RecordError("sess", errors.NewSystemError(errors.KindRetrieval, "retrieve",
			fmt.Errorf("failure %d", i)))
	}

	snap := s.Get("sess")
	if len(snap.Errors) != 5 {
		t.Fatalf("expected error list capped at 5, got %d", len(snap.Errors))
	}
	// Oldest evicted: the list starts at failure 3.
	if snap.Errors[0].Message != "failure 3" {
		t.Fatalf("expected FIFO eviction, first message %q", snap.Errors[0].Message)
	}
	if snap.ConsecutiveFailures != 8 {
		t.Fatalf("expected 8 consecutive failures, got %d", snap.ConsecutiveFailures)
	}
}

func TestMayRetry(t *testing.T) {
	s := NewStore()

	if !s.MayRetry("sess", errors.KindSystem) {
		t.Fatal("fresh session must permit retry")
	}
	if s.MayRetry("sess", errors.KindValidation) {
		t.Fatal("validation errors are never retried")
	}

	for i := 0; i < MaxRetries; i++ {
		s.RecordRetry("sess")
	}
	if s.MayRetry("sess", errors.KindSystem) {
		t.Fatal("retry budget exhausted, retry must be denied")
	}
}

func TestMayRetryStopsOnConsecutiveFailures(t *testing.T) {
	s := NewStore()
	for i := 0; i < 3; i++ {
		s.RecordError("sess", errors.NewSystemError(errors.KindGeneration, "generate", nil))
	}
	if s.MayRetry("sess", errors.KindGeneration) {
		t.Fatal("3 consecutive failures must stop retries")
	}
}

func TestHealthThreshold(t *testing.T) {
	s := NewStore()

	if h := s.Health("sess"); !h.Healthy {
		t.Fatal("fresh session must be healthy")
	}

	for i := 0; i < UnhealthyThreshold; i++ {
		s.RecordError("sess", errors.NewSystemError(errors.KindSystem, "generate", nil))
	}
	if h := s.Health("sess"); h.Healthy {
		t.Fatalf("expected unhealthy after %d failures", UnhealthyThreshold)
	}
}

func TestClearFailuresResetsCounters(t *testing.T) {
	s := NewStore()
	s.RecordError("sess", errors.NewSystemError(errors.KindSystem, "generate", nil))
	s.RecordRetry("sess")

	s.ClearFailures("sess")

	h := s.Health("sess")
	if h.ConsecutiveFailures != 0 || h.RetryCount != 0 {
		t.Fatalf("expected counters reset, got %+v", h)
	}
	if !s.MayRetry("sess", errors.KindSystem) {
		t.Fatal("retry must be permitted again after clear")
	}
}

func TestSetPhaseMergesContext(t *testing.T) {
	s := NewStore()
	s.SetPhase("sess", PhaseGenerating, map[string]any{"a": 1})
	s.SetPhase("sess", PhaseCompleted, map[string]any{"b": 2})

	snap := s.Get("sess")
	if snap.Phase != PhaseCompleted {
		t.Fatalf("expected completed phase, got %s", snap.Phase)
	}
	if snap.Context["a"] != 1 || snap.Context["b"] != 2 {
		t.Fatalf("expected key-wise merged context, got %v", snap.Context)
	}
}

func TestAppendContextListCaps(t *testing.T) {
	s := NewStore()
	for i := 0; i < 15; i++ {
		s.AppendContextList("sess", "history", i, 10)
	}

	v, ok := s.ContextValue("sess", "history")
	if !ok {
		t.Fatal("expected history list in context")
	}
	list := v.([]any)
	if len(list) != 10 {
		t.Fatalf("expected list capped at 10, got %d", len(list))
	}
	if list[0] != 5 {
		t.Fatalf("expected oldest entries evicted, first = %v", list[0])
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.SetPhase("sess", PhaseInitialized, map[string]any{"k": "v"})

	snap := s.Get("sess")
	snap.Context["k"] = "mutated"

	if fresh := s.Get("sess"); fresh.Context["k"] != "v" {
		t.Fatal("mutating a snapshot leaked into the store")
	}
}

func TestConcurrentSessionsDoNotInterfere(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sess-%d", i)
			for j := 0; j < 50; j++ {
				s.RecordError(id, errors.NewSystemError(errors.KindSystem, "n", nil))
				s.SetPhase(id, PhaseRetrieving, nil)
				s.Health(id)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 32; i++ {
		snap := s.Get(fmt.Sprintf("sess-%d", i))
		if snap.ConsecutiveFailures != 50 {
			t.Fatalf("session %d lost updates: %d", i, snap.ConsecutiveFailures)
		}
	}
}
