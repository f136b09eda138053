package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/sweetpotato0/adaptiverag/contrib/embedder/hash"
	"github.com/sweetpotato0/adaptiverag/contrib/vector/inmemory"
	"github.com/sweetpotato0/adaptiverag/corpus"
	"github.com/sweetpotato0/adaptiverag/errors"
	"github.com/sweetpotato0/adaptiverag/grader"
	"github.com/sweetpotato0/adaptiverag/index"
	"github.com/sweetpotato0/adaptiverag/message"
	"github.com/sweetpotato0/adaptiverag/oracle"
	"github.com/sweetpotato0/adaptiverag/retrieve"
	"github.com/sweetpotato0/adaptiverag/state"
	"github.com/sweetpotato0/adaptiverag/tokenizer"
	"github.com/sweetpotato0/adaptiverag/websearch"
)

// funcClient routes each rendered prompt through a reply function. The
// engine fans some calls out concurrently, hence the mutex around the
// prompt log.
type funcClient struct {
	mu      sync.Mutex
	reply   func(prompt string) (string, error)
	prompts []string
}

func (c *funcClient) Generate(_ context.Context, messages []*message.Message) (*message.Message, error) {
	var prompt string
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()
	text, err := c.reply(prompt)
	if err != nil {
		return nil, err
	}
	return message.NewMessage(message.RoleAssistant, text), nil
}

func (c *funcClient) countPrompts(marker string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.prompts {
		if strings.Contains(p, marker) {
			n++
		}
	}
	return n
}

type fakeSearcher struct {
	results []websearch.Result
	err     error
	calls   int
}

func (f *fakeSearcher) Search(_ context.Context, _ string) ([]websearch.Result, error) {
	f.calls++
	return f.results, f.err
}

func newEngine(t *testing.T, client oracle.Client, search websearch.Searcher, docs ...corpus.Document) (*Engine, *state.Store) {
	t.Helper()
	chunker := corpus.NewTokenChunker(tokenizer.NewSimpleTokenizer(), corpus.WithChunkTokens(20))
	idx := index.New(inmemory.NewInMemoryVectorStore(), hash.New(128), chunker)
	if len(docs) > 0 {
		if err := idx.Ingest(context.Background(), docs...); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
	}
	o := oracle.New(client)
	g := grader.New(o)
	sessions := state.NewStore()
	return New(retrieve.New(idx, o, g), g, o, search, sessions), sessions
}

var gradingDoc = corpus.Document{
	ID:      "grading",
	Content: "Essays are graded automatically against the rubric. Teachers can adjust any score before it is released to students.",
}

// markerReply answers the grading and generation prompts the way a fully
// cooperative model would.
func markerReply(answer string) func(string) (string, error) {
	return func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Classify the following query"):
			return "Factual", nil
		case strings.Contains(prompt, "grader assessing relevance"):
			return "yes", nil
		case strings.Contains(prompt, "grounded in / supported by"):
			return "yes", nil
		case strings.Contains(prompt, "addresses / resolves"):
			return "yes", nil
		case strings.Contains(prompt, "question-answering tasks"):
			return answer, nil
		case strings.Contains(prompt, "question re-writer"):
			return "how does essay grading work", nil
		default:
			return "", nil
		}
	}
}

func TestRunHappyPath(t *testing.T) {
	client := &funcClient{reply: markerReply("Essays are graded against the rubric and teachers can adjust scores.")}
	e, sessions := newEngine(t, client, nil, gradingDoc)

	st, err := e.Run(context.Background(), State{
		Question:  "how are essays graded",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(st.Generation, "rubric") {
		t.Errorf("Generation = %q, want the model answer", st.Generation)
	}
	if len(st.Documents) == 0 {
		t.Error("final state carries no documents")
	}
	if h := sessions.Health("s1"); h.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d after a useful answer, want 0", h.ConsecutiveFailures)
	}
	if got := client.countPrompts("question-answering tasks"); got != 1 {
		t.Errorf("generation prompts = %d, want 1", got)
	}
}

func TestRunEmptyCorpusWithoutSearcher(t *testing.T) {
	// Nothing to retrieve and no web fallback: the machine cycles through
	// transform/retrieve until the step budget runs out, and reports the
	// partial state rather than an error.
	client := &funcClient{reply: markerReply("irrelevant")}
	e, _ := newEngine(t, client, nil)

	st, err := e.Run(context.Background(), State{Question: "anything", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil on budget exhaustion", err)
	}
	if st.Generation != "" {
		t.Errorf("Generation = %q, want empty with no documents anywhere", st.Generation)
	}
}

func TestRunWebSearchFallback(t *testing.T) {
	client := &funcClient{reply: markerReply("The free tier supports up to thirty students per class.")}
	search := &fakeSearcher{results: []websearch.Result{
		{Title: "Pricing FAQ", Snippet: "The free tier supports thirty students.", URL: "https://example.com/faq"},
	}}
	e, _ := newEngine(t, client, search) // empty index forces the fallback

	st, err := e.Run(context.Background(), State{Question: "what does the free tier include", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if search.calls == 0 {
		t.Fatal("web search was never invoked")
	}
	if len(st.Documents) == 0 || !strings.HasPrefix(st.Documents[0].ID, "web:") {
		t.Fatalf("Documents = %+v, want chunks adapted from web results", st.Documents)
	}
	if st.Documents[0].Source != "https://example.com/faq" {
		t.Errorf("Source = %q, want the result URL", st.Documents[0].Source)
	}
	if !strings.Contains(st.Generation, "thirty students") {
		t.Errorf("Generation = %q, want an answer over the web documents", st.Generation)
	}
}

func TestRunUnsupportedGenerationLoopIsBounded(t *testing.T) {
	// The groundedness grader always says no, so Generate loops on itself.
	// The step budget must cut the loop and return the last generation.
	answer := "Essays are graded against the rubric automatically."
	client := &funcClient{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "grounded in / supported by") {
			return "no", nil
		}
		return markerReply(answer)(prompt)
	}}
	e, _ := newEngine(t, client, nil, gradingDoc)

	st, err := e.Run(context.Background(), State{Question: "how are essays graded", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil on budget exhaustion", err)
	}
	if st.Generation != answer {
		t.Errorf("Generation = %q, want the last regeneration %q", st.Generation, answer)
	}
	if got := client.countPrompts("question-answering tasks"); got < 2 || got >= MaxSteps {
		t.Errorf("generation prompts = %d, want a bounded self-loop", got)
	}
}

func TestRunGenerationOutageProducesCannedText(t *testing.T) {
	generationDown := fmt.Errorf("provider unavailable")
	client := &funcClient{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "question-answering tasks") || strings.Contains(prompt, "Answer this question") {
			return "", generationDown
		}
		return markerReply("")(prompt)
	}}
	e, sessions := newEngine(t, client, nil, gradingDoc)

	st, err := e.Run(context.Background(), State{Question: "how are essays graded", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Generation != MsgGenerationDown {
		t.Errorf("Generation = %q, want %q", st.Generation, MsgGenerationDown)
	}
	if h := sessions.Health("s1"); h.ConsecutiveFailures == 0 {
		t.Error("generation outage was not recorded against the session")
	}
}

func TestRetrievePanicDegradesToCannedMessage(t *testing.T) {
	client := &funcClient{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "Classify the following query") {
			panic("classifier wedged")
		}
		return "", nil
	}}
	e, sessions := newEngine(t, client, nil, gradingDoc)
	sessions.Init("s1")

	st := e.runNode(context.Background(), StepRetrieve, errors.KindRetrieval,
		State{Question: "how are essays graded", SessionID: "s1"}, e.retrieveNode)

	if st.ErrorMessage != MsgRetrievalIssue {
		t.Errorf("ErrorMessage = %q, want %q", st.ErrorMessage, MsgRetrievalIssue)
	}
	if len(st.Documents) != 0 {
		t.Errorf("Documents = %d chunks, want none after a retrieval failure", len(st.Documents))
	}
	snap := sessions.Get("s1")
	if len(snap.Errors) == 0 || snap.Errors[len(snap.Errors)-1].Kind != errors.KindRetrieval {
		t.Error("retrieval failure was not recorded against the session")
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	client := &funcClient{reply: markerReply("whatever the model says here does not matter")}
	e, _ := newEngine(t, client, nil, gradingDoc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, State{Question: "how are essays graded", SessionID: "s1"})
	if err == nil {
		t.Fatal("Run() error = nil, want context cancellation")
	}
}

func TestJoinDocuments(t *testing.T) {
	docs := []corpus.Chunk{{Content: "a"}, {Content: "b"}, {Content: "c"}}
	if got := joinDocuments(docs, 2); got != "a\nb" {
		t.Errorf("joinDocuments(n=2) = %q, want %q", got, "a\nb")
	}
	if got := joinDocuments(docs, 0); got != "a\nb\nc" {
		t.Errorf("joinDocuments(n=0) = %q, want %q", got, "a\nb\nc")
	}
}
