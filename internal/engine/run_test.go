package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// mockLLM streams scripted responses in small pieces.
type mockLLM struct {
	mu      sync.Mutex
	respond func(call int, msgs []ChatMessage) (string, error)
	calls   int
	seen    [][]ChatMessage
}

func (m *mockLLM) Stream(ctx context.Context, model string, msgs []ChatMessage, opts ChatOptions) (<-chan StreamEvent, <-chan error) {
	m.mu.Lock()
	n := m.calls
	m.calls++
	m.seen = append(m.seen, append([]ChatMessage(nil), msgs...))
	m.mu.Unlock()

	text, err := m.respond(n, msgs)
	evCh := make(chan StreamEvent)
	errCh := make(chan error, 1)
	go func() {
		defer close(evCh)
		defer close(errCh)
		if err != nil {
			errCh <- err
			return
		}
		for len(text) > 0 {
			size := 7
			if size > len(text) {
				size = len(text)
			}
			select {
			case evCh <- StreamEvent{Type: "text_delta", Text: text[:size]}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
			text = text[size:]
		}
		select {
		case evCh <- StreamEvent{Type: "usage", Usage: Usage{Prompt: 10, Completion: 5, Total: 15}}:
		case <-ctx.Done():
		}
		errCh <- nil
	}()
	return evCh, errCh
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockLLM) messages(call int) []ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[call]
}

func scripted(responses ...string) *mockLLM {
	return &mockLLM{respond: func(call int, _ []ChatMessage) (string, error) {
		if call >= len(responses) {
			return responses[len(responses)-1], nil
		}
		return responses[call], nil
	}}
}

type staticResolver struct {
	client LLMClient
	err    error
}

func (r staticResolver) Resolve(_ context.Context, modelID string) (ResolvedModel, error) {
	if r.err != nil {
		return ResolvedModel{}, r.err
	}
	return ResolvedModel{Client: r.client, Name: "mock-" + modelID, MaxOutputTokens: 256}, nil
}

type fakeStore struct {
	mu   sync.Mutex
	msgs map[string][]ChatMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{msgs: make(map[string][]ChatMessage)}
}

func (s *fakeStore) AddMessage(sessionID string, role MessageRole, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[sessionID] = append(s.msgs[sessionID], ChatMessage{Role: role, Content: content})
	return nil
}

func (s *fakeStore) Context(sessionID string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ChatMessage{{Role: RoleSystem, Content: "You are a helpful financial assistant."}}
	return append(out, s.msgs[sessionID]...)
}

func (s *fakeStore) Stats(sessionID string) SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{MessageCount: len(s.msgs[sessionID])}
}

func (s *fakeStore) last(sessionID string) ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.msgs[sessionID]
	if len(msgs) == 0 {
		return ChatMessage{}
	}
	return msgs[len(msgs)-1]
}

// recordingHook keeps an ordered log of the events a protocol writer sees.
type recordingHook struct {
	NopHook
	mu          sync.Mutex
	events      []string
	deltas      []string
	parseErrs   int
	results     []ToolResult
	onToolCall  func()
	onStreamOut func(n int)
}

func (h *recordingHook) add(ev string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHook) OnRoundStart(context.Context, *State) { h.add("round") }
func (h *recordingHook) OnParseError(context.Context, *State, *ParseError) {
	h.mu.Lock()
	h.parseErrs++
	h.mu.Unlock()
}
func (h *recordingHook) OnToolCall(_ context.Context, _ *State, c ToolCall) {
	h.add("tool_calling:" + c.Name)
	if h.onToolCall != nil {
		h.onToolCall()
	}
}
func (h *recordingHook) OnToolResult(_ context.Context, _ *State, c ToolCall, r ToolResult) {
	h.mu.Lock()
	h.results = append(h.results, r)
	h.mu.Unlock()
	h.add("tool_result:" + c.Name)
}
func (h *recordingHook) OnStreamStart(context.Context, *State) { h.add("stream_start") }
func (h *recordingHook) OnStreamDelta(_ context.Context, _ *State, d string) {
	h.mu.Lock()
	h.deltas = append(h.deltas, d)
	n := len(h.deltas)
	h.mu.Unlock()
	if h.onStreamOut != nil {
		h.onStreamOut(n)
	}
}
func (h *recordingHook) OnStreamEnd(context.Context, *State) { h.add("stream_end") }
func (h *recordingHook) OnDone(_ context.Context, st *State) {
	h.add("done:" + string(st.Outcome))
}

func (h *recordingHook) count(prefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ev := range h.events {
		if strings.HasPrefix(ev, prefix) {
			n++
		}
	}
	return n
}

func (h *recordingHook) streamed() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Join(h.deltas, "")
}

func navigateTool(fn ToolFunc) ToolRegistry {
	return ToolRegistry{
		"browser_navigate": {
			Name:        "browser_navigate",
			Description: "Navigate the browser to a URL",
			Signature:   "browser_navigate(url: str) -> Dict",
			SchemaJSON:  `{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`,
			Fn:          fn,
		},
	}
}

func okNavigate(_ context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"title": "Example Domain", "final_url": args["url"]}, nil
}

func newTestAgent(t *testing.T, llm LLMClient, tools ToolRegistry, store ConversationStore) *Agent {
	t.Helper()
	agent, err := NewAgentBuilder().
		WithModels(staticResolver{client: llm}).
		WithStore(store).
		WithToolRegistry(tools).
		WithStreamDelay(0).
		WithHooks(Hooks{}).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return agent
}

func navigateCall(url string) string {
	return fmt.Sprintf("<tool_call>\n{\"tool\": \"browser_navigate\", \"parameters\": {\"url\": %q}}\n</tool_call>", url)
}

func TestRun_FinalAnswerWithoutToolCall(t *testing.T) {
	answer := "Apple's dividend yield is about 0.5%.\n\nIt pays quarterly."
	llm := scripted(answer)
	store := newFakeStore()
	agent := newTestAgent(t, llm, navigateTool(okNavigate), store)
	hook := &recordingHook{}

	st, err := agent.Run(context.Background(), Turn{
		SessionID: "s1",
		Message:   "What is Apple's dividend yield?",
		UseAgent:  true,
		Hooks:     Hooks{hook},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %q, want %q", st.Outcome, OutcomeCompleted)
	}
	if got := llm.callCount(); got != 1 {
		t.Errorf("LLM calls = %d, want 1", got)
	}
	if got := hook.streamed(); got != answer {
		t.Errorf("streamed = %q, want %q", got, answer)
	}
	if len(hook.deltas) < 2 {
		t.Errorf("expected incremental delivery, got %d deltas", len(hook.deltas))
	}
	if st.Answer != answer {
		t.Errorf("Answer = %q, want %q", st.Answer, answer)
	}
	if last := store.last("s1"); last.Role != RoleAssistant || last.Content != answer {
		t.Errorf("persisted %+v, want assistant answer", last)
	}
	if hook.count("done:") != 1 {
		t.Errorf("done events = %d, want 1", hook.count("done:"))
	}
	if st.Stats.MessageCount != 2 {
		t.Errorf("Stats.MessageCount = %d, want 2", st.Stats.MessageCount)
	}

	first := llm.messages(0)
	foundCatalog := false
	for _, m := range first {
		if m.Role == RoleSystem && strings.Contains(m.Content, "browser_navigate") {
			foundCatalog = true
		}
	}
	if !foundCatalog {
		t.Error("agent turn did not include the tool catalog")
	}
}

func TestRun_SingleToolCallThenAnswer(t *testing.T) {
	toolText := "Let me open the page.\n" + navigateCall("https://example.com")
	llm := scripted(toolText, "The page is titled Example Domain.")
	store := newFakeStore()
	agent := newTestAgent(t, llm, navigateTool(okNavigate), store)
	hook := &recordingHook{}

	st, err := agent.Run(context.Background(), Turn{
		SessionID: "s1",
		Message:   "Open example.com",
		UseAgent:  true,
		Hooks:     Hooks{hook},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %q", st.Outcome)
	}
	if hook.count("tool_calling:browser_navigate") != 1 || hook.count("tool_result:browser_navigate") != 1 {
		t.Fatalf("events = %v", hook.events)
	}
	if !hook.results[0].Success {
		t.Errorf("tool result = %+v, want success", hook.results[0])
	}
	if got := llm.callCount(); got != 2 {
		t.Fatalf("LLM calls = %d, want 2", got)
	}

	second := llm.messages(1)
	if len(second) < 2 {
		t.Fatalf("second round history too short: %d", len(second))
	}
	assistant, result := second[len(second)-2], second[len(second)-1]
	if assistant.Role != RoleAssistant || assistant.Content != toolText {
		t.Errorf("assistant turn = %+v", assistant)
	}
	if result.Role != RoleUser || !strings.Contains(result.Content, "Tool browser_navigate result:") ||
		!strings.Contains(result.Content, "Example Domain") {
		t.Errorf("tool result turn = %+v", result)
	}

	// Tool traffic is not part of the persisted conversation.
	if got := st.Stats.MessageCount; got != 2 {
		t.Errorf("persisted messages = %d, want 2", got)
	}
	if hook.streamed() != "The page is titled Example Domain." {
		t.Errorf("streamed = %q", hook.streamed())
	}
}

func TestRun_CancelWhileToolRunning(t *testing.T) {
	started := make(chan struct{})
	blocking := func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	llm := scripted(navigateCall("https://example.com"), "should never be requested")
	store := newFakeStore()
	agent := newTestAgent(t, llm, navigateTool(blocking), store)
	hook := &recordingHook{}
	token := NewCancelToken()

	go func() {
		<-started
		token.Cancel()
	}()

	st, err := agent.Run(context.Background(), Turn{
		SessionID: "s1",
		Message:   "Open example.com",
		UseAgent:  true,
		Cancel:    token,
		Hooks:     Hooks{hook},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Outcome != OutcomeCancelled {
		t.Fatalf("Outcome = %q, want cancelled", st.Outcome)
	}
	if len(hook.deltas) != 0 {
		t.Errorf("stream content after cancel: %v", hook.deltas)
	}
	if got := llm.callCount(); got != 1 {
		t.Errorf("LLM calls = %d, want 1", got)
	}
	if hook.count("done:cancelled") != 1 {
		t.Errorf("events = %v", hook.events)
	}
	if last := store.last("s1"); last.Role != RoleUser {
		t.Errorf("last persisted = %+v, want the user question only", last)
	}
}

func TestRun_MaxRoundsForcesSummary(t *testing.T) {
	llm := &mockLLM{respond: func(call int, msgs []ChatMessage) (string, error) {
		last := msgs[len(msgs)-1]
		if strings.Contains(last.Content, "maximum number of tool calls") {
			return "Summary: visited five pages.", nil
		}
		return navigateCall(fmt.Sprintf("https://example.com/page%d", call)), nil
	}}
	store := newFakeStore()
	agent := newTestAgent(t, llm, navigateTool(okNavigate), store)
	hook := &recordingHook{}

	st, err := agent.Run(context.Background(), Turn{
		SessionID: "s1",
		Message:   "Browse around",
		UseAgent:  true,
		Hooks:     Hooks{hook},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Outcome != OutcomeMaxIterations {
		t.Fatalf("Outcome = %q, want %q", st.Outcome, OutcomeMaxIterations)
	}
	if got := llm.callCount(); got != DefaultMaxRounds+1 {
		t.Errorf("LLM calls = %d, want %d", got, DefaultMaxRounds+1)
	}
	if st.ToolCalls != DefaultMaxRounds {
		t.Errorf("ToolCalls = %d, want %d", st.ToolCalls, DefaultMaxRounds)
	}
	if st.Answer != "Summary: visited five pages." {
		t.Errorf("Answer = %q", st.Answer)
	}
	if hook.count("stream_start") != 1 || hook.count("stream_end") != 1 {
		t.Errorf("events = %v", hook.events)
	}
	if last := store.last("s1"); last.Content != st.Answer {
		t.Errorf("summary not persisted: %+v", last)
	}
}

func TestRun_MalformedToolBlockIsIgnored(t *testing.T) {
	text := "<tool_call>{not json}</tool_call> Markets closed higher."
	llm := scripted(text)
	agent := newTestAgent(t, llm, navigateTool(okNavigate), newFakeStore())
	hook := &recordingHook{}

	st, err := agent.Run(context.Background(), Turn{SessionID: "s1", Message: "How did markets do?", UseAgent: true, Hooks: Hooks{hook}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %q", st.Outcome)
	}
	if hook.parseErrs != 1 {
		t.Errorf("parse errors = %d, want 1", hook.parseErrs)
	}
	if hook.streamed() != text {
		t.Errorf("streamed = %q, want %q", hook.streamed(), text)
	}
}

func TestRun_ToolFailureDoesNotAbort(t *testing.T) {
	failing := func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("no browser connected")
	}
	llm := scripted(navigateCall("https://example.com"), "I could not open the page.")
	agent := newTestAgent(t, llm, navigateTool(failing), newFakeStore())
	hook := &recordingHook{}

	st, _ := agent.Run(context.Background(), Turn{SessionID: "s1", Message: "Open it", UseAgent: true, Hooks: Hooks{hook}})
	if st.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %q", st.Outcome)
	}
	if len(hook.results) != 1 || hook.results[0].Success || hook.results[0].Error != "no browser connected" {
		t.Errorf("results = %+v", hook.results)
	}
	if !strings.Contains(llm.messages(1)[len(llm.messages(1))-1].Content, "no browser connected") {
		t.Error("failure was not folded into the next round")
	}
}

func TestRun_TerminalEvents(t *testing.T) {
	tests := []struct {
		name        string
		resolver    ModelResolver
		cancelFirst bool
		want        Outcome
		wantCalls   int
	}{
		{
			name:      "provider error",
			resolver:  staticResolver{client: &mockLLM{respond: func(int, []ChatMessage) (string, error) { return "", errors.New("status code: 401, invalid api key") }}},
			want:      OutcomeError,
			wantCalls: 1,
		},
		{
			name:     "unknown model",
			resolver: staticResolver{err: errors.New("unknown model: nope")},
			want:     OutcomeError,
		},
		{
			name:        "cancelled before first round",
			resolver:    staticResolver{client: scripted("unused")},
			cancelFirst: true,
			want:        OutcomeCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent, err := NewAgentBuilder().WithModels(tt.resolver).WithStore(newFakeStore()).WithHooks(Hooks{}).Build()
			if err != nil {
				t.Fatal(err)
			}
			hook := &recordingHook{}
			token := NewCancelToken()
			if tt.cancelFirst {
				token.Cancel()
			}
			st, runErr := agent.Run(context.Background(), Turn{SessionID: "s1", Message: "hi", UseAgent: true, Cancel: token, Hooks: Hooks{hook}})
			if st.Outcome != tt.want {
				t.Errorf("Outcome = %q, want %q", st.Outcome, tt.want)
			}
			if hook.count("done:") != 1 {
				t.Errorf("terminal events = %d, want exactly 1", hook.count("done:"))
			}
			if (runErr != nil) != (tt.want == OutcomeError) {
				t.Errorf("Run() error = %v", runErr)
			}
			if mock, ok := tt.resolver.(staticResolver).client.(*mockLLM); ok && mock.callCount() != tt.wantCalls {
				t.Errorf("LLM calls = %d, want %d", mock.callCount(), tt.wantCalls)
			}
		})
	}
}

func TestRun_ProviderErrorIsClassified(t *testing.T) {
	llm := &mockLLM{respond: func(int, []ChatMessage) (string, error) {
		return "", errors.New("error, status code: 429, message: rate limit reached")
	}}
	agent := newTestAgent(t, llm, nil, newFakeStore())

	_, err := agent.Run(context.Background(), Turn{SessionID: "s1", Message: "hi"})
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("error %v is not an *EngineError", err)
	}
	if engineErr.Class != ClassRateLimit {
		t.Errorf("Class = %q, want %q", engineErr.Class, ClassRateLimit)
	}
}

func TestRun_PlainModeStreamsLive(t *testing.T) {
	answer := "Inflation eased to 3.1% last month."
	llm := scripted(answer)
	agent := newTestAgent(t, llm, navigateTool(okNavigate), newFakeStore())
	hook := &recordingHook{}

	st, err := agent.Run(context.Background(), Turn{SessionID: "s1", Message: "Latest CPI?", Hooks: Hooks{hook}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Outcome != OutcomeCompleted || st.Answer != answer {
		t.Fatalf("st = %+v", st)
	}
	for _, m := range llm.messages(0) {
		if strings.Contains(m.Content, "Available Tools:") {
			t.Error("plain turn must not carry the tool catalog")
		}
	}
	if hook.streamed() != answer {
		t.Errorf("streamed = %q", hook.streamed())
	}
}

func TestRun_CancelDuringSimulatedStream(t *testing.T) {
	llm := scripted("one two three four five six")
	agent := newTestAgent(t, llm, navigateTool(okNavigate), newFakeStore())
	token := NewCancelToken()
	hook := &recordingHook{onStreamOut: func(n int) {
		if n == 2 {
			token.Cancel()
		}
	}}

	st, _ := agent.Run(context.Background(), Turn{SessionID: "s1", Message: "count", UseAgent: true, Cancel: token, Hooks: Hooks{hook}})
	if st.Outcome != OutcomeCancelled {
		t.Fatalf("Outcome = %q", st.Outcome)
	}
	if len(hook.deltas) != 2 {
		t.Errorf("deltas after cancel = %d, want 2", len(hook.deltas))
	}
}

type fakeRetriever struct{ hits []Passage }

func (r fakeRetriever) Search(context.Context, string, string, int) ([]Passage, error) {
	return r.hits, nil
}

func TestRun_RAGAddsRelevantContent(t *testing.T) {
	llm := scripted("ok")
	agent, err := NewAgentBuilder().
		WithModels(staticResolver{client: llm}).
		WithStore(newFakeStore()).
		WithRetriever(fakeRetriever{hits: []Passage{{URL: "https://news.example/fed", Snippet: "The Fed held rates."}}}).
		WithStreamDelay(0).
		WithHooks(Hooks{}).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := agent.Run(context.Background(), Turn{SessionID: "s1", Message: "What did the Fed do?", UseRAG: true}); err != nil {
		t.Fatal(err)
	}
	want := "Relevant web content:\n- https://news.example/fed: The Fed held rates."
	found := false
	for _, m := range llm.messages(0) {
		if m.Role == RoleSystem && m.Content == want {
			found = true
		}
	}
	if !found {
		t.Errorf("RAG message missing from %+v", llm.messages(0))
	}
}
