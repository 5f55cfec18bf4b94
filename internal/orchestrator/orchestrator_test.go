package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/koopa0/grounded/internal/core"
	"github.com/koopa0/grounded/internal/log"
	"github.com/koopa0/grounded/internal/provider"
	"github.com/koopa0/grounded/internal/retrieval"
	"github.com/koopa0/grounded/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRetriever returns a fixed result set or error and records the query
// it was asked for.
type fakeRetriever struct {
	results []core.RetrievalResult
	err     error

	mu        sync.Mutex
	lastQuery string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, _ ...retrieval.Option) ([]core.RetrievalResult, error) {
	f.mu.Lock()
	f.lastQuery = query
	f.mu.Unlock()
	return f.results, f.err
}

// fakeLLM streams scripted tokens, optionally failing the first failures
// attempts before any token.
type fakeLLM struct {
	mu       sync.Mutex
	tokens   []string
	failures int
	calls    int

	// blockAfter pauses the stream after this many tokens until unblock
	// closes, for cancellation tests. Zero means never block.
	blockAfter int
	unblock    chan struct{}
}

func (f *fakeLLM) Generate(ctx context.Context, messages []provider.Message) (string, error) {
	return f.GenerateStream(ctx, messages, func(string) error { return nil })
}

func (f *fakeLLM) GenerateStream(ctx context.Context, _ []provider.Message, fn provider.StreamFunc) (string, error) {
	f.mu.Lock()
	f.calls++
	shouldFail := f.calls <= f.failures
	f.mu.Unlock()

	if shouldFail {
		return "", errors.New("backend overloaded")
	}

	var full strings.Builder
	for i, token := range f.tokens {
		if f.blockAfter > 0 && i == f.blockAfter {
			select {
			case <-f.unblock:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if err := fn(token); err != nil {
			return "", err
		}
		full.WriteString(token)
	}
	return full.String(), nil
}

func (f *fakeLLM) Ping(context.Context) error { return nil }

func testConfig() Config {
	return Config{
		Budget:         Budget{PromptTokens: 8000, ContextTokens: 3000, HistoryTokens: 3000},
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
		RatePerSecond:  1000,
		RateBurst:      1000,
	}
}

func newTestOrchestrator(t *testing.T, retriever Retriever, llm provider.LLMProvider) (*Orchestrator, *session.Store) {
	t.Helper()

	sessions := session.NewStore(log.NewNop())
	o, err := New(sessions, retriever, llm, testConfig(), log.NewNop())
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return o, sessions
}

func collect(t *testing.T, events <-chan AnswerEvent) []AnswerEvent {
	t.Helper()

	var out []AnswerEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func groundedResults() []core.RetrievalResult {
	return []core.RetrievalResult{
		{Chunk: core.Chunk{ID: "doc:0000", Text: "koalas eat eucalyptus"}, Score: 0.95},
		{Chunk: core.Chunk{ID: "doc:0001", Text: "koalas sleep twenty hours"}, Score: 0.80},
	}
}

func TestHandleTurn_StreamsAndCommits(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{tokens: []string{"Koalas ", "eat ", "eucalyptus ", "[1]."}}
	o, _ := newTestOrchestrator(t, &fakeRetriever{results: groundedResults()}, llm)

	id := o.NewSession()
	events, err := o.HandleTurn(context.Background(), id, "what do koalas eat?")
	if err != nil {
		t.Fatalf("HandleTurn() = %v", err)
	}

	all := collect(t, events)

	var tokens []string
	var citations []session.Citation
	var done *AnswerEvent
	for i, ev := range all {
		switch ev.Kind {
		case EventToken:
			tokens = append(tokens, ev.Token)
		case EventCitation:
			citations = append(citations, ev.Citation)
		case EventDone:
			if i != len(all)-1 {
				t.Error("done must be the final event")
			}
			done = &all[i]
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	if strings.Join(tokens, "") != "Koalas eat eucalyptus [1]." {
		t.Errorf("streamed answer = %q", strings.Join(tokens, ""))
	}
	if done == nil {
		t.Fatal("no done event")
	}
	if done.Ungrounded {
		t.Error("grounded turn reported as ungrounded")
	}
	if done.Turn.Text != "Koalas eat eucalyptus [1]." {
		t.Errorf("committed text = %q", done.Turn.Text)
	}

	if len(citations) != 1 || citations[0].ChunkID != "doc:0000" {
		t.Fatalf("citations = %+v, want one for doc:0000", citations)
	}

	// Citations reference the turn's retrieval set only.
	valid := map[string]bool{"doc:0000": true, "doc:0001": true}
	for _, c := range citations {
		if !valid[c.ChunkID] {
			t.Errorf("citation %s outside the retrieval set", c.ChunkID)
		}
	}

	info, err := o.Session(id)
	if err != nil {
		t.Fatalf("Session() = %v", err)
	}
	if len(info.Turns) != 2 {
		t.Fatalf("session has %d turns, want user + assistant", len(info.Turns))
	}
	if info.Turns[1].Role != session.RoleAssistant || len(info.Turns[1].Citations) != 1 {
		t.Errorf("assistant turn = %+v", info.Turns[1])
	}
}

func TestHandleTurn_RetrievalFailureDegradesToUngrounded(t *testing.T) {
	t.Parallel()

	retriever := &fakeRetriever{
		err: &retrieval.Error{Reason: retrieval.StoreUnavailable, Err: errors.New("down")},
	}
	llm := &fakeLLM{tokens: []string{"I cannot ", "verify this."}}
	o, _ := newTestOrchestrator(t, retriever, llm)

	id := o.NewSession()
	events, err := o.HandleTurn(context.Background(), id, "question")
	if err != nil {
		t.Fatalf("HandleTurn() = %v", err)
	}

	all := collect(t, events)
	last := all[len(all)-1]
	if last.Kind != EventDone {
		t.Fatalf("terminal event = %s, want done", last.Kind)
	}
	if !last.Ungrounded {
		t.Error("turn without retrieval must be marked ungrounded")
	}
	for _, ev := range all {
		if ev.Kind == EventCitation {
			t.Error("ungrounded turn must carry no citations")
		}
	}
}

func TestHandleTurn_LLMFailureEmitsErrorAndCommitsNothing(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{failures: 100} // never recovers
	o, _ := newTestOrchestrator(t, &fakeRetriever{results: groundedResults()}, llm)

	id := o.NewSession()
	events, err := o.HandleTurn(context.Background(), id, "question")
	if err != nil {
		t.Fatalf("HandleTurn() = %v", err)
	}

	all := collect(t, events)
	if len(all) != 1 || all[0].Kind != EventError {
		t.Fatalf("events = %+v, want a single error event", all)
	}

	info, _ := o.Session(id)
	if len(info.Turns) != 1 || info.Turns[0].Role != session.RoleUser {
		t.Errorf("failed turn must leave only the user turn, got %+v", info.Turns)
	}
}

func TestHandleTurn_RetriesBeforeFirstToken(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{tokens: []string{"recovered"}, failures: 2}
	o, _ := newTestOrchestrator(t, &fakeRetriever{results: groundedResults()}, llm)

	id := o.NewSession()
	events, err := o.HandleTurn(context.Background(), id, "question")
	if err != nil {
		t.Fatalf("HandleTurn() = %v", err)
	}

	all := collect(t, events)
	last := all[len(all)-1]
	if last.Kind != EventDone {
		t.Fatalf("terminal event = %s, want done after retries", last.Kind)
	}
	if llm.calls != 3 {
		t.Errorf("llm called %d times, want 3 (two failures, one success)", llm.calls)
	}
}

func TestHandleTurn_CancellationCommitsNothing(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{
		tokens:     []string{"first ", "second ", "never delivered"},
		blockAfter: 2,
		unblock:    make(chan struct{}),
	}
	defer close(llm.unblock)

	o, _ := newTestOrchestrator(t, &fakeRetriever{results: groundedResults()}, llm)

	ctx, cancel := context.WithCancel(context.Background())
	id := o.NewSession()
	events, err := o.HandleTurn(ctx, id, "question")
	if err != nil {
		t.Fatalf("HandleTurn() = %v", err)
	}

	// Consume the first two tokens, then walk away.
	<-events
	<-events
	cancel()

	// The channel must close without a done event.
	for ev := range events {
		if ev.Kind == EventDone {
			t.Error("canceled turn must not complete")
		}
	}

	info, _ := o.Session(id)
	if len(info.Turns) != 1 {
		t.Errorf("canceled turn committed %d turns, want only the user turn", len(info.Turns))
	}
}

func TestHandleTurn_ExpandedQueryRetrievesButOriginalCommits(t *testing.T) {
	t.Parallel()

	retriever := &fakeRetriever{results: groundedResults()}
	llm := &fakeLLM{tokens: []string{"answer"}}
	o, _ := newTestOrchestrator(t, retriever, llm)

	id := o.NewSession()
	events, err := o.HandleTurn(context.Background(), id, "what do they eat?",
		WithExpandedQuery("what do koalas eat in eucalyptus forests?"))
	if err != nil {
		t.Fatalf("HandleTurn() = %v", err)
	}
	collect(t, events)

	retriever.mu.Lock()
	query := retriever.lastQuery
	retriever.mu.Unlock()
	if query != "what do koalas eat in eucalyptus forests?" {
		t.Errorf("retriever saw %q, want the expanded query", query)
	}

	info, err := o.Session(id)
	if err != nil {
		t.Fatalf("Session() = %v", err)
	}
	if info.Turns[0].Text != "what do they eat?" {
		t.Errorf("history holds %q, want the original message", info.Turns[0].Text)
	}
}

func TestHandleTurn_EmptyQuestion(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, &fakeRetriever{}, &fakeLLM{})
	if _, err := o.HandleTurn(context.Background(), o.NewSession(), ""); err == nil {
		t.Error("empty question should be rejected before the turn starts")
	}
}

func TestHandleTurn_ExpiredSession(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, &fakeRetriever{}, &fakeLLM{})
	id := o.NewSession()
	if err := o.Expire(id); err != nil {
		t.Fatalf("Expire() = %v", err)
	}

	_, err := o.HandleTurn(context.Background(), id, "question")
	if !errors.Is(err, session.ErrExpired) {
		t.Errorf("HandleTurn(expired) = %v, want ErrExpired", err)
	}
}

func TestHandleTurn_HistoryFlowsIntoLaterTurns(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{tokens: []string{"answer"}}
	o, _ := newTestOrchestrator(t, &fakeRetriever{results: groundedResults()}, llm)
	ctx := context.Background()

	id := o.NewSession()
	first, err := o.HandleTurn(ctx, id, "first question")
	if err != nil {
		t.Fatalf("first HandleTurn() = %v", err)
	}
	collect(t, first)

	second, err := o.HandleTurn(ctx, id, "second question")
	if err != nil {
		t.Fatalf("second HandleTurn() = %v", err)
	}
	collect(t, second)

	info, err := o.Session(id)
	if err != nil {
		t.Fatalf("Session() = %v", err)
	}
	if len(info.Turns) != 4 {
		t.Errorf("session has %d turns after two rounds, want 4", len(info.Turns))
	}
}
