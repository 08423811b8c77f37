package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/interrupt"
	"github.com/praxislabs/scout/internal/model"
	"github.com/praxislabs/scout/internal/preference"
	"github.com/praxislabs/scout/internal/stream"
	"github.com/praxislabs/scout/internal/tools"
)

// memStore is a minimal StateStore for tests.
type memStore struct {
	mu     sync.Mutex
	states map[string]*State
}

func newMemStore() *memStore { return &memStore{states: make(map[string]*State)} }

func (s *memStore) Save(_ context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ThreadID] = st.Clone()
	return nil
}

func (s *memStore) Load(_ context.Context, threadID string) (*State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[threadID]
	if !ok {
		return nil, false, nil
	}
	return st.Clone(), true, nil
}

func (s *memStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, threadID)
	return nil
}

// fakeGateway scripts tool behavior per test.
type fakeGateway struct {
	mu            sync.Mutex
	classifyLabel string
	planQueries   []string
	planErr       error
	planCalls     int
	planFeedback  []string
	searchResults map[string][]model.SearchResult
	searchErrs    map[string]error
	summary       string
	summarized    []model.SearchResult
	summarizeN    int
}

func (g *fakeGateway) Classify(_ context.Context, _ string, _ []model.Message) (tools.Classification, error) {
	return tools.Classification{Label: g.classifyLabel, Confidence: 0.9}, nil
}

func (g *fakeGateway) Plan(_ context.Context, _ string, _ []model.Message, feedback string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.planCalls++
	g.planFeedback = append(g.planFeedback, feedback)
	if g.planErr != nil {
		return nil, g.planErr
	}
	return g.planQueries, nil
}

func (g *fakeGateway) Search(_ context.Context, query string) ([]model.SearchResult, error) {
	if err := g.searchErrs[query]; err != nil {
		return nil, err
	}
	return g.searchResults[query], nil
}

func (g *fakeGateway) Summarize(_ context.Context, _ string, results []model.SearchResult, onDelta func(string)) (string, error) {
	g.mu.Lock()
	g.summarizeN++
	g.summarized = append([]model.SearchResult(nil), results...)
	g.mu.Unlock()
	for _, chunk := range []string{g.summary[:len(g.summary)/2], g.summary[len(g.summary)/2:]} {
		onDelta(chunk)
	}
	return g.summary, nil
}

func (g *fakeGateway) DirectAnswer(_ context.Context, _ string, _ []model.Message, onDelta func(string)) (string, error) {
	onDelta(g.summary)
	return g.summary, nil
}

type testRig struct {
	engine  *Engine
	streams *stream.Manager
	store   *memStore
	frames  chan stream.Frame
}

func newTestRig(t *testing.T, g tools.Gateway, gate preference.Gate) *testRig {
	t.Helper()
	logger := zap.NewNop()
	streams := stream.NewManager(256, logger)
	st := newMemStore()
	engine := NewEngine(Config{}, g, gate, interrupt.NewCoordinator(logger), streams, st, logger)
	frames := streams.Subscribe("t1", 256)
	t.Cleanup(func() { streams.Unsubscribe("t1", frames) })
	return &testRig{engine: engine, streams: streams, store: st, frames: frames}
}

func (r *testRig) drain() []stream.Frame {
	var out []stream.Frame
	for {
		select {
		case f := <-r.frames:
			out = append(out, f)
		default:
			return out
		}
	}
}

func frameTypes(frames []stream.Frame) []stream.FrameType {
	out := make([]stream.FrameType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func containsType(frames []stream.Frame, t stream.FrameType) bool {
	for _, f := range frames {
		if f.Type == t {
			return true
		}
	}
	return false
}

func TestSearchPathWithApproval(t *testing.T) {
	g := &fakeGateway{
		classifyLabel: tools.LabelNeedsSearch,
		planQueries:   []string{"current weather San Francisco"},
		searchResults: map[string][]model.SearchResult{
			"current weather San Francisco": {{Title: "SF Weather", URL: "https://example.com/sf", Query: "current weather San Francisco"}},
		},
		summary: "It is 18°C and foggy in San Francisco.",
	}
	rig := newTestRig(t, g, preference.NopGate{})
	ctx := context.Background()

	if err := rig.engine.Submit(ctx, "t1", "What is the weather in SF?", false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	st, _, _ := rig.store.Load(ctx, "t1")
	if st.Stage != StageHumanReview {
		t.Fatalf("expected HUMAN_REVIEW, got %s", st.Stage)
	}
	frames := rig.drain()
	last := frames[len(frames)-1]
	if last.Type != stream.FrameInterrupt {
		t.Fatalf("interrupt must be the last frame before idle, got %v", frameTypes(frames))
	}
	prompt, err := last.Interrupt()
	if err != nil {
		t.Fatalf("decode interrupt: %v", err)
	}
	if len(prompt.PlannedQueries) != 1 || prompt.PlannedQueries[0] != "current weather San Francisco" {
		t.Fatalf("interrupt missing planned query: %+v", prompt)
	}

	if err := rig.engine.Submit(ctx, "t1", "approve", true); err != nil {
		t.Fatalf("resume: %v", err)
	}

	st, _, _ = rig.store.Load(ctx, "t1")
	if st.Stage != StageDone {
		t.Fatalf("expected DONE, got %s", st.Stage)
	}
	if st.SearchCount != 1 || st.SearchFailures != 0 {
		t.Fatalf("search_count=%d failures=%d", st.SearchCount, st.SearchFailures)
	}
	frames = rig.drain()
	if !containsType(frames, stream.FrameSearchResults) || !containsType(frames, stream.FrameAnswer) {
		t.Fatalf("missing search_results or answer frames: %v", frameTypes(frames))
	}
	final := st.Messages[len(st.Messages)-1]
	if final.Role != model.RoleAssistant || final.Content != g.summary || final.Status != model.StatusComplete {
		t.Fatalf("unexpected final message: %+v", final)
	}
}

func TestDirectAnswerPathNeverInterrupts(t *testing.T) {
	g := &fakeGateway{
		classifyLabel: tools.LabelDirectAnswer,
		summary:       "Recursion is a function calling itself.",
	}
	rig := newTestRig(t, g, preference.NopGate{})
	ctx := context.Background()

	if err := rig.engine.Submit(ctx, "t1", "Explain the word 'recursion'", false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	st, _, _ := rig.store.Load(ctx, "t1")
	if st.Stage != StageDone {
		t.Fatalf("expected DONE, got %s", st.Stage)
	}
	frames := rig.drain()
	if containsType(frames, stream.FrameInterrupt) {
		t.Fatalf("direct answer path must never interrupt: %v", frameTypes(frames))
	}
	if !containsType(frames, stream.FrameAnswer) {
		t.Fatalf("expected answer frames: %v", frameTypes(frames))
	}
}

func TestFeedbackReplansAndReviewsAgain(t *testing.T) {
	g := &fakeGateway{
		classifyLabel: tools.LabelNeedsSearch,
		planQueries:   []string{"best pizza rome"},
	}
	rig := newTestRig(t, g, preference.NopGate{})
	ctx := context.Background()

	if err := rig.engine.Submit(ctx, "t1", "Where to eat in Rome?", false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	rig.drain()

	if err := rig.engine.Submit(ctx, "t1", "also check Reddit", true); err != nil {
		t.Fatalf("feedback resume: %v", err)
	}

	st, _, _ := rig.store.Load(ctx, "t1")
	if st.Stage != StageHumanReview {
		t.Fatalf("feedback must re-enter review, got %s", st.Stage)
	}
	if g.planCalls != 2 {
		t.Fatalf("expected a second planning pass, got %d", g.planCalls)
	}
	if g.planFeedback[1] != "also check Reddit" {
		t.Fatalf("feedback not merged into planning input: %q", g.planFeedback[1])
	}
	// Feedback becomes a user-visible turn.
	found := false
	for _, m := range st.Messages {
		if m.Role == model.RoleUser && m.Content == "also check Reddit" {
			found = true
		}
	}
	if !found {
		t.Fatal("feedback missing from conversation")
	}
	frames := rig.drain()
	if frames[len(frames)-1].Type != stream.FrameInterrupt {
		t.Fatalf("expected a second interrupt, got %v", frameTypes(frames))
	}
}

func TestSkipFinishesWithoutSearching(t *testing.T) {
	g := &fakeGateway{
		classifyLabel: tools.LabelNeedsSearch,
		planQueries:   []string{"q1"},
	}
	rig := newTestRig(t, g, preference.NopGate{})
	ctx := context.Background()

	if err := rig.engine.Submit(ctx, "t1", "question", false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := rig.engine.Submit(ctx, "t1", "skip", true); err != nil {
		t.Fatalf("skip: %v", err)
	}

	st, _, _ := rig.store.Load(ctx, "t1")
	if st.Stage != StageDone {
		t.Fatalf("expected DONE, got %s", st.Stage)
	}
	if st.SearchCount != 0 {
		t.Fatalf("skip must not search, count=%d", st.SearchCount)
	}
}

func TestPartialSearchFailure(t *testing.T) {
	g := &fakeGateway{
		classifyLabel: tools.LabelNeedsSearch,
		planQueries:   []string{"good query", "bad query"},
		searchResults: map[string][]model.SearchResult{
			"good query": {{Title: "Hit", URL: "https://example.com", Query: "good query"}},
		},
		searchErrs: map[string]error{
			"bad query": errors.New("timeout"),
		},
		summary: "Answer from surviving results.",
	}
	rig := newTestRig(t, g, preference.NopGate{})
	ctx := context.Background()

	if err := rig.engine.Submit(ctx, "t1", "question", false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := rig.engine.Resume(ctx, "t1", "approve"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	st, _, _ := rig.store.Load(ctx, "t1")
	if st.Stage != StageDone {
		t.Fatalf("partial failure must still finish, got %s", st.Stage)
	}
	if st.SearchCount != 2 || st.SearchFailures != 1 {
		t.Fatalf("search_count=%d failures=%d", st.SearchCount, st.SearchFailures)
	}
	if len(g.summarized) != 1 || g.summarized[0].Query != "good query" {
		t.Fatalf("summarization must use only surviving results: %+v", g.summarized)
	}
}

func TestResumeIsIdempotent(t *testing.T) {
	g := &fakeGateway{
		classifyLabel: tools.LabelNeedsSearch,
		planQueries:   []string{"q1"},
		searchResults: map[string][]model.SearchResult{
			"q1": {{Title: "Hit", URL: "https://example.com", Query: "q1"}},
		},
		summary: "done",
	}
	rig := newTestRig(t, g, preference.NopGate{})
	ctx := context.Background()

	if err := rig.engine.Submit(ctx, "t1", "question", false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := rig.engine.Resume(ctx, "t1", "approve"); err != nil {
		t.Fatalf("first resume: %v", err)
	}
	first, _, _ := rig.store.Load(ctx, "t1")

	if err := rig.engine.Resume(ctx, "t1", "approve"); err != nil {
		t.Fatalf("duplicate resume must be a no-op, got %v", err)
	}
	second, _, _ := rig.store.Load(ctx, "t1")

	if len(second.Messages) != len(first.Messages) || second.SearchCount != first.SearchCount {
		t.Fatalf("duplicate resume advanced the workflow: %+v vs %+v", second, first)
	}
	if g.summarizeN != 1 {
		t.Fatalf("summarize ran %d times", g.summarizeN)
	}
}

// Run locks live only while a run holds or waits on them; a completed
// thread must not pin a map entry forever.
func TestRunLockReleasedAfterRun(t *testing.T) {
	g := &fakeGateway{
		classifyLabel: tools.LabelDirectAnswer,
		summary:       "done",
	}
	rig := newTestRig(t, g, preference.NopGate{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rig.engine.Submit(ctx, "t1", "question", false); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	rig.engine.mu.Lock()
	n := len(rig.engine.runs)
	rig.engine.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d run locks retained after completion", n)
	}
}

func TestToolFailureRoutesToErrorSink(t *testing.T) {
	g := &fakeGateway{
		classifyLabel: tools.LabelNeedsSearch,
		planErr:       tools.ErrEmptyPlan,
	}
	rig := newTestRig(t, g, preference.NopGate{})
	ctx := context.Background()

	if err := rig.engine.Submit(ctx, "t1", "question", false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	st, _, _ := rig.store.Load(ctx, "t1")
	if st.Stage != StageError {
		t.Fatalf("expected ERROR, got %s", st.Stage)
	}
	frames := rig.drain()
	if frames[len(frames)-1].Type != stream.FrameError {
		t.Fatalf("expected trailing error frame: %v", frameTypes(frames))
	}
}

// autoGate always auto-approves, standing in for episodic memory with
// enough agreeing history.
type autoGate struct{ recorded []preference.Episode }

func (g *autoGate) Check(context.Context, string, []string) (preference.AutoDecision, bool, error) {
	return preference.AutoDecision{Action: interrupt.ActionApprove, Confidence: 0.95, Matched: 4}, true, nil
}

func (g *autoGate) Record(_ context.Context, ep preference.Episode) error {
	g.recorded = append(g.recorded, ep)
	return nil
}

func TestAutoApprovalBypassesReview(t *testing.T) {
	g := &fakeGateway{
		classifyLabel: tools.LabelNeedsSearch,
		planQueries:   []string{"q1"},
		searchResults: map[string][]model.SearchResult{
			"q1": {{Title: "Hit", URL: "https://example.com", Query: "q1"}},
		},
		summary: "auto-approved answer",
	}
	gate := &autoGate{}
	rig := newTestRig(t, g, gate)
	ctx := context.Background()

	if err := rig.engine.Submit(ctx, "t1", "question", false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	st, _, _ := rig.store.Load(ctx, "t1")
	if st.Stage != StageDone {
		t.Fatalf("expected DONE without review, got %s", st.Stage)
	}
	if containsType(rig.drain(), stream.FrameInterrupt) {
		t.Fatal("auto-approved run must not interrupt")
	}
	// Auto decisions are never recorded as episodes.
	if len(gate.recorded) != 0 {
		t.Fatalf("auto decision was recorded: %+v", gate.recorded)
	}
}

func TestHumanDecisionRecordedAsEpisode(t *testing.T) {
	g := &fakeGateway{
		classifyLabel: tools.LabelNeedsSearch,
		planQueries:   []string{"q1"},
		searchResults: map[string][]model.SearchResult{"q1": nil},
		summary:       "ok",
	}
	gate := &recordingGate{}
	rig := newTestRig(t, g, gate)
	ctx := context.Background()

	if err := rig.engine.Submit(ctx, "t1", "question", false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := rig.engine.Resume(ctx, "t1", "approve"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(gate.recorded) != 1 || gate.recorded[0].Decision != interrupt.ActionApprove {
		t.Fatalf("expected one approve episode, got %+v", gate.recorded)
	}
}

// recordingGate never auto-decides but captures recorded episodes.
type recordingGate struct{ recorded []preference.Episode }

func (g *recordingGate) Check(context.Context, string, []string) (preference.AutoDecision, bool, error) {
	return preference.AutoDecision{}, false, nil
}

func (g *recordingGate) Record(_ context.Context, ep preference.Episode) error {
	g.recorded = append(g.recorded, ep)
	return nil
}
