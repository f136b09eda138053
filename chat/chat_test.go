package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sweetpotato0/adaptiverag/errors"
	"github.com/sweetpotato0/adaptiverag/history"
	"github.com/sweetpotato0/adaptiverag/state"
	"github.com/sweetpotato0/adaptiverag/workflow"
)

// stubRunner scripts workflow outcomes per call: a positive entry is a
// generation, an error entry fails the run, and panicMode panics instead.
type stubRunner struct {
	generations []string
	errs        []error
	panicMode   bool
	calls       int
	lastState   workflow.State
}

func (r *stubRunner) Run(_ context.Context, st workflow.State) (workflow.State, error) {
	r.calls++
	r.lastState = st
	if r.panicMode {
		panic("runner exploded")
	}
	idx := r.calls - 1
	if idx < len(r.errs) && r.errs[idx] != nil {
		return st, r.errs[idx]
	}
	if idx < len(r.generations) {
		st.Generation = r.generations[idx]
	} else if len(r.generations) > 0 {
		st.Generation = r.generations[len(r.generations)-1]
	}
	return st, nil
}

const goodAnswer = "The grading engine scores essays against the rubric."

func TestGenerateResponseSuccess(t *testing.T) {
	runner := &stubRunner{generations: []string{goodAnswer}}
	sessions := state.NewStore()
	svc := New(runner, sessions)

	got := svc.GenerateResponse(context.Background(), "how are essays graded", "")
	if got != goodAnswer {
		t.Errorf("GenerateResponse() = %q, want %q", got, goodAnswer)
	}
	if runner.lastState.SessionID != DefaultSessionID {
		t.Errorf("SessionID = %q, want %q", runner.lastState.SessionID, DefaultSessionID)
	}
	if snap := sessions.Get(DefaultSessionID); snap.Phase != state.PhaseCompleted {
		t.Errorf("session phase = %q, want %q", snap.Phase, state.PhaseCompleted)
	}
}

func TestGenerateResponseRejectsShortQuestion(t *testing.T) {
	runner := &stubRunner{generations: []string{goodAnswer}}
	svc := New(runner, state.NewStore())

	if got := svc.GenerateResponse(context.Background(), "  hi  ", "s1"); got != MsgClarify {
		t.Errorf("GenerateResponse() = %q, want %q", got, MsgClarify)
	}
	if runner.calls != 0 {
		t.Errorf("runner called %d times for a trivial question, want 0", runner.calls)
	}
}

func TestGenerateResponseUnhealthySession(t *testing.T) {
	runner := &stubRunner{generations: []string{goodAnswer}}
	sessions := state.NewStore()
	sessions.Init("sick")
	for i := 0; i < state.UnhealthyThreshold; i++ {
		sessions.RecordError("sick", errors.NewSystemError(errors.KindSystem, "generate", fmt.Errorf("boom %d", i)))
	}
	svc := New(runner, sessions)

	if got := svc.GenerateResponse(context.Background(), "a real question", "sick"); got != MsgUnhealthy {
		t.Errorf("GenerateResponse() = %q, want %q", got, MsgUnhealthy)
	}
	if runner.calls != 0 {
		t.Errorf("runner called %d times on an unhealthy session, want 0", runner.calls)
	}
}

func TestGenerateResponseEmptyGeneration(t *testing.T) {
	svc := New(&stubRunner{}, state.NewStore())
	if got := svc.GenerateResponse(context.Background(), "a real question", "s1"); got != MsgNoGeneration {
		t.Errorf("GenerateResponse() = %q, want %q", got, MsgNoGeneration)
	}
}

func TestGenerateResponseShortGeneration(t *testing.T) {
	svc := New(&stubRunner{generations: []string{"nope"}}, state.NewStore())
	if got := svc.GenerateResponse(context.Background(), "a real question", "s1"); got != MsgIncomplete {
		t.Errorf("GenerateResponse() = %q, want %q", got, MsgIncomplete)
	}
}

func TestGenerateResponseRetriesThenSucceeds(t *testing.T) {
	runner := &stubRunner{
		errs:        []error{fmt.Errorf("transient")},
		generations: []string{"", goodAnswer},
	}
	svc := New(runner, state.NewStore())

	got := svc.GenerateResponse(context.Background(), "how are essays graded", "s1")
	want := RetryPrefix + goodAnswer
	if got != want {
		t.Errorf("GenerateResponse() = %q, want %q", got, want)
	}
	if runner.calls != 2 {
		t.Errorf("runner called %d times, want 2", runner.calls)
	}
}

func TestGenerateResponseExhaustsRetries(t *testing.T) {
	runner := &stubRunner{errs: []error{
		fmt.Errorf("one"), fmt.Errorf("two"), fmt.Errorf("three"), fmt.Errorf("four"), fmt.Errorf("five"),
	}}
	svc := New(runner, state.NewStore())

	got := svc.GenerateResponse(context.Background(), "how are essays graded", "s1")
	if !strings.HasSuffix(got, MsgMaxRetries) {
		t.Fatalf("GenerateResponse() = %q, want it to end with %q", got, MsgMaxRetries)
	}
	if n := strings.Count(got, RetryPrefix); n != state.MaxRetries {
		t.Errorf("retry prefix repeated %d times, want %d", n, state.MaxRetries)
	}
	if runner.calls != state.MaxRetries+1 {
		t.Errorf("runner called %d times, want %d", runner.calls, state.MaxRetries+1)
	}
}

func TestGenerateResponseRecoversRunnerPanic(t *testing.T) {
	runner := &stubRunner{panicMode: true}
	svc := New(runner, state.NewStore())

	got := svc.GenerateResponse(context.Background(), "how are essays graded", "s1")
	if !strings.HasSuffix(got, MsgMaxRetries) {
		t.Errorf("GenerateResponse() = %q, want a canned message after repeated panics", got)
	}
}

func TestHistoryFeedsUserContext(t *testing.T) {
	runner := &stubRunner{generations: []string{goodAnswer, goodAnswer}}
	store := history.NewInMemoryStore()
	svc := New(runner, state.NewStore(), WithHistory(store))

	svc.GenerateResponse(context.Background(), "how are essays graded", "s1")
	if runner.lastState.UserContext != "" {
		t.Errorf("first question carried user context %q, want none", runner.lastState.UserContext)
	}

	svc.GenerateResponse(context.Background(), "and what about pricing", "s1")
	if !strings.Contains(runner.lastState.UserContext, "Q: how are essays graded") {
		t.Errorf("UserContext = %q, want it to summarize prior history", runner.lastState.UserContext)
	}
	if !strings.Contains(runner.lastState.UserContext, "A: "+goodAnswer) {
		t.Errorf("UserContext = %q, want it to include the prior answer", runner.lastState.UserContext)
	}

	entries, err := store.Recent(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("history has %d entries, want 2", len(entries))
	}
}

type captureMirror struct {
	snaps []state.Snapshot
}

func (m *captureMirror) Save(_ context.Context, snap state.Snapshot) error {
	m.snaps = append(m.snaps, snap)
	return nil
}

func TestSessionMirrorReceivesSnapshot(t *testing.T) {
	runner := &stubRunner{generations: []string{goodAnswer}}
	mirror := &captureMirror{}
	svc := New(runner, state.NewStore(), WithSessionMirror(mirror))

	svc.GenerateResponse(context.Background(), "how are essays graded", "s1")
	if len(mirror.snaps) != 1 {
		t.Fatalf("mirror saved %d snapshots, want 1", len(mirror.snaps))
	}
	if mirror.snaps[0].ID != "s1" {
		t.Errorf("snapshot session = %q, want s1", mirror.snaps[0].ID)
	}
}

func TestSentimentSummaryWithoutAnalyzer(t *testing.T) {
	svc := New(&stubRunner{}, state.NewStore())
	sum := svc.SentimentSummary("s1")
	if sum.Dominant != "neutral" || sum.AverageScore != 0.5 {
		t.Errorf("SentimentSummary() = %+v, want neutral defaults", sum)
	}
}
