package session

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
	"github.com/ChamsBouzaiene/finchat/internal/r2c"
)

// wordTokenizer counts whitespace-separated words, which keeps budgets in
// these tests easy to reason about.
type wordTokenizer struct{}

func (wordTokenizer) CountTokens(text string) int { return len(strings.Fields(text)) }

func newTestStore(t *testing.T, maxTokens int, tok engine.Tokenizer) *Store {
	t.Helper()
	s, err := NewStore(Options{MaxTokens: maxTokens, Compression: r2c.DefaultConfig(), Tokenizer: tok})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func checkTokenInvariant(t *testing.T, s *Store, id string, tok engine.Tokenizer) {
	t.Helper()
	sum := 0
	for _, m := range s.Messages(id) {
		if m.Tokens != tok.CountTokens(m.Content) {
			t.Fatalf("message tokens %d != count %d for %q", m.Tokens, tok.CountTokens(m.Content), m.Content)
		}
		sum += m.Tokens
	}
	if ctx, ok := s.CompressedContext(id); ok {
		sum += tok.CountTokens(ctx)
	}
	if got := s.Stats(id).TokenCount; got != sum {
		t.Fatalf("TokenCount = %d, want %d", got, sum)
	}
}

func longMessage(i int) string {
	return fmt.Sprintf("Message %d discusses the stock market outlook. Earnings growth may slow next quarter. "+
		"Analysts watch the Fed closely and bond yields keep rising?", i)
}

func TestNewStoreValidates(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"zero budget", Options{MaxTokens: 0, Compression: r2c.DefaultConfig()}},
		{"bad ratio", Options{MaxTokens: 100, Compression: r2c.Config{Ratio: 0, Rho: 0.5, Gamma: 1}}},
		{"bad gamma", Options{MaxTokens: 100, Compression: r2c.Config{Ratio: 0.5, Rho: 0.5, Gamma: -2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStore(tt.opts); err == nil {
				t.Error("NewStore() expected error")
			}
		})
	}
}

func TestAddMessageFormatsRoles(t *testing.T) {
	s := newTestStore(t, 1000, nil)
	_ = s.AddMessage("s1", engine.RoleUser, "What is the P/E of MSFT?")
	_ = s.AddMessage("s1", engine.RoleAssistant, "About 35.")
	_ = s.AddMessage("s1", engine.RoleSystem, "note")

	msgs := s.Messages("s1")
	want := []string{
		"[USER QUESTION]: What is the P/E of MSFT?",
		"[ASSISTANT RESPONSE]: About 35.",
		"note",
	}
	for i, w := range want {
		if msgs[i].Content != w {
			t.Errorf("message %d = %q, want %q", i, msgs[i].Content, w)
		}
	}
	if msgs[1].Role != engine.RoleAssistant {
		t.Errorf("role = %q, want native assistant role", msgs[1].Role)
	}
	checkTokenInvariant(t, s, "s1", engine.DefaultTokenizer{})
}

func TestAddMessageRejectsBadInput(t *testing.T) {
	s := newTestStore(t, 1000, nil)
	if err := s.AddMessage("", engine.RoleUser, "hi"); err != ErrEmptySessionID {
		t.Errorf("empty id error = %v", err)
	}
	if err := s.AddMessage("s1", engine.MessageRole("tool"), "hi"); err == nil {
		t.Error("invalid role accepted")
	}
}

func TestCompressionScenario(t *testing.T) {
	tok := engine.DefaultTokenizer{}
	s := newTestStore(t, 100, tok)

	var added []string
	totalAdded := 0
	compressedAt := -1
	for i := 0; i < 6; i++ {
		role := engine.RoleUser
		if i%2 == 1 {
			role = engine.RoleAssistant
		}
		before := s.Stats("s1").TokenCount
		if err := s.AddMessage("s1", role, longMessage(i)); err != nil {
			t.Fatal(err)
		}
		msgs := s.Messages("s1")
		added = append(added, msgs[len(msgs)-1].Content)
		tokens := msgs[len(msgs)-1].Tokens
		totalAdded += tokens
		checkTokenInvariant(t, s, "s1", tok)

		stats := s.Stats("s1")
		if stats.CompressionCount > 0 && compressedAt == -1 {
			compressedAt = i
			if before+tokens <= 100 {
				t.Fatalf("compressed while under budget: %d", before+tokens)
			}
			if len(msgs) != 2 || msgs[0].Content != added[i-1] || msgs[1].Content != added[i] {
				t.Fatalf("reserved tail not kept: %+v", msgs)
			}
			if stats.TokenCount >= before+tokens {
				t.Errorf("compression did not reduce tokens: %d >= %d", stats.TokenCount, before+tokens)
			}
		}
	}

	if compressedAt == -1 {
		t.Fatal("session never compressed")
	}
	if _, ok := s.CompressedContext("s1"); !ok {
		t.Error("compressed context missing")
	}
	stats := s.Stats("s1")
	if stats.TokenCount >= totalAdded {
		t.Errorf("TokenCount = %d, want < %d", stats.TokenCount, totalAdded)
	}
	for _, ev := range stats.CompressionHistory {
		if ev.CompressedTokens >= ev.OriginalTokens {
			t.Errorf("event %+v did not shrink", ev)
		}
		if ev.ChunksCompressed < 1 {
			t.Errorf("event %+v has no chunks", ev)
		}
	}
}

func TestCompressionNeverGrowsTokenCount(t *testing.T) {
	tok := engine.DefaultTokenizer{}
	pool := []string{
		"Short note.",
		"What happened to bond yields today?",
		longMessage(1),
		"Revenue grew. Margins held. Guidance was cut. The stock fell after hours.",
		"A. B. C. D.",
		strings.Repeat("Filler sentence without much in it. ", 6),
	}
	for _, rho := range []float64{0, 0.5, 1} {
		for _, gamma := range []float64{0, 1, 5} {
			cfg := r2c.Config{Ratio: 0.5, Rho: rho, Gamma: gamma}
			t.Run(fmt.Sprintf("rho=%v gamma=%v", rho, gamma), func(t *testing.T) {
				rng := rand.New(rand.NewSource(int64(rho*10 + gamma)))
				s, err := NewStore(Options{MaxTokens: 60 + rng.Intn(80), Compression: cfg, Tokenizer: tok})
				if err != nil {
					t.Fatal(err)
				}
				for i := 0; i < 60; i++ {
					role := engine.RoleUser
					if rng.Intn(2) == 1 {
						role = engine.RoleAssistant
					}
					before := s.Stats("s1")
					if err := s.AddMessage("s1", role, pool[rng.Intn(len(pool))]); err != nil {
						t.Fatal(err)
					}
					msgs := s.Messages("s1")
					added := msgs[len(msgs)-1].Tokens
					after := s.Stats("s1")
					if after.CompressionCount > before.CompressionCount && after.TokenCount >= before.TokenCount+added {
						t.Fatalf("step %d: compression grew token count %d -> %d", i, before.TokenCount+added, after.TokenCount)
					}
					checkTokenInvariant(t, s, "s1", tok)
				}
				stats := s.Stats("s1")
				if stats.CompressionCount == 0 {
					t.Fatal("session never compressed")
				}
				for _, ev := range stats.CompressionHistory {
					if ev.CompressedTokens >= ev.OriginalTokens {
						t.Errorf("event %+v did not shrink", ev)
					}
				}
			})
		}
	}
}

// flatTokenizer charges the same for any non-empty text, so trimming
// sentences never lowers the count.
type flatTokenizer struct{}

func (flatTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return 50
}

func TestCompressionSkippedWhenItWouldNotShrink(t *testing.T) {
	tok := flatTokenizer{}
	s := newTestStore(t, 100, tok)
	for i := 0; i < 3; i++ {
		if err := s.AddMessage("s1", engine.RoleUser, "First sentence here. Second sentence here."); err != nil {
			t.Fatal(err)
		}
	}
	stats := s.Stats("s1")
	if stats.CompressionCount != 0 || stats.MessageCount != 3 {
		t.Errorf("stats = %+v, want three raw messages and no compression", stats)
	}
	if _, ok := s.CompressedContext("s1"); ok {
		t.Error("compressed context committed")
	}
	checkTokenInvariant(t, s, "s1", tok)
}

func TestNoCompressionBelowThreeMessages(t *testing.T) {
	tok := wordTokenizer{}
	s := newTestStore(t, 10, tok)
	_ = s.AddMessage("s1", engine.RoleUser, strings.Repeat("word ", 20))
	_ = s.AddMessage("s1", engine.RoleAssistant, strings.Repeat("word ", 20))

	stats := s.Stats("s1")
	if stats.Compressed || stats.MessageCount != 2 {
		t.Errorf("stats = %+v, want two raw messages and no compression", stats)
	}
	if stats.TokenCount <= 10 {
		t.Errorf("TokenCount = %d, want over budget", stats.TokenCount)
	}
	checkTokenInvariant(t, s, "s1", tok)
}

func TestContextOrdering(t *testing.T) {
	tok := wordTokenizer{}
	s := newTestStore(t, 100, tok)

	big := strings.TrimSpace(strings.Repeat("The market rallied on strong earnings. ", 15))
	_ = s.AddMessage("s1", engine.RoleUser, big)

	ctx := s.Context("s1")
	if len(ctx) != 2 || ctx[0].Role != engine.RoleSystem || ctx[0].Content != PersonaPrompt {
		t.Fatalf("uncompressed context = %+v", ctx)
	}

	for i := 0; i < 4; i++ {
		role := engine.RoleAssistant
		if i%2 == 1 {
			role = engine.RoleUser
		}
		_ = s.AddMessage("s1", role, "x")
	}
	if !s.Stats("s1").Compressed {
		t.Fatalf("expected compression, stats = %+v", s.Stats("s1"))
	}
	for i := 0; i < 6; i++ {
		_ = s.AddMessage("s1", engine.RoleUser, fmt.Sprintf("q%d", i))
	}
	if s.Stats("s1").CompressionCount != 1 {
		t.Fatalf("CompressionCount = %d, want 1", s.Stats("s1").CompressionCount)
	}

	ctx = s.Context("s1")
	if len(ctx) != 2+recentWindow {
		t.Fatalf("context length = %d, want %d", len(ctx), 2+recentWindow)
	}
	if ctx[0].Content != PersonaPrompt {
		t.Errorf("first message = %q", ctx[0].Content)
	}
	if !strings.HasPrefix(ctx[1].Content, "[Compressed Context]: ") {
		t.Errorf("second message = %q", ctx[1].Content)
	}
	if ctx[len(ctx)-1].Content != "[USER QUESTION]: q5" || ctx[2].Content != "[USER QUESTION]: q1" {
		t.Errorf("recent window = %+v", ctx[2:])
	}

	all := s.ContextWith("s1", false)
	if len(all) != 1+len(s.Messages("s1")) {
		t.Errorf("ContextWith(false) length = %d", len(all))
	}
}

func TestContextUnknownSession(t *testing.T) {
	s := newTestStore(t, 100, nil)
	ctx := s.Context("nope")
	if len(ctx) != 1 || ctx[0].Content != PersonaPrompt {
		t.Errorf("Context() = %+v", ctx)
	}
	if got := s.Stats("nope"); got.MessageCount != 0 || got.CompressionHistory == nil {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestClearConversationOnly(t *testing.T) {
	tok := engine.DefaultTokenizer{}
	s := newTestStore(t, 100, tok)

	_ = s.AddWebContent("s1", "https://finance.example/aapl", "Apple reported record revenue.")
	for i := 0; i < 6; i++ {
		_ = s.AddMessage("s1", engine.RoleUser, longMessage(i))
	}
	_ = s.AddWebContent("s1", "https://finance.example/msft", "Microsoft raised its dividend.")

	s.ClearConversationOnly("s1")
	first := s.Messages("s1")
	firstStats := s.Stats("s1")

	s.ClearConversationOnly("s1")
	second := s.Messages("s1")

	if len(first) != len(second) {
		t.Fatalf("clear not idempotent: %d then %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Content != second[i].Content {
			t.Errorf("message %d changed: %q vs %q", i, first[i].Content, second[i].Content)
		}
		if !strings.Contains(first[i].Content, WebContentMarker) {
			t.Errorf("non-web message kept: %q", first[i].Content)
		}
	}
	if firstStats.Compressed || firstStats.CompressionCount != 0 {
		t.Errorf("compression state not reset: %+v", firstStats)
	}
	checkTokenInvariant(t, s, "s1", tok)

	// Unknown sessions are a no-op.
	s.ClearConversationOnly("missing")
	if len(s.List()) != 1 {
		t.Error("clearing an unknown session created it")
	}
}

func TestReset(t *testing.T) {
	s := newTestStore(t, 100, nil)
	_ = s.AddMessage("s1", engine.RoleUser, "hello")
	s.Reset("s1")
	if got := s.Stats("s1").MessageCount; got != 0 {
		t.Errorf("MessageCount after Reset = %d", got)
	}
}

func TestFormatWebContent(t *testing.T) {
	got := FormatWebContent("https://x.example", "body")
	if got != "[Web Content from https://x.example]: body" {
		t.Errorf("FormatWebContent() = %q", got)
	}
}

func TestListNewestFirst(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := NewStore(Options{
		MaxTokens:   1000,
		Compression: r2c.DefaultConfig(),
		Now: func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = s.AddMessage("old", engine.RoleUser, "Current Page Information:\nTitle: x\n\nUser Question: How are bank stocks doing?")
	_ = s.AddMessage("new", engine.RoleUser, "Any news on oil?")

	list := s.List()
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		t.Fatalf("List() = %+v", list)
	}
	if list[1].Title != "How are bank stocks doing?" {
		t.Errorf("Title = %q", list[1].Title)
	}
}

func TestConcurrentAddMessage(t *testing.T) {
	tok := engine.DefaultTokenizer{}
	s := newTestStore(t, 200, tok)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				role := engine.RoleUser
				if i%2 == 1 {
					role = engine.RoleAssistant
				}
				if err := s.AddMessage("shared", role, longMessage(w*100+i)); err != nil {
					t.Error(err)
					return
				}
				_ = s.Context("shared")
				_ = s.Stats("shared")
			}
		}(w)
	}
	wg.Wait()

	checkTokenInvariant(t, s, "shared", tok)
	if !s.Stats("shared").Compressed {
		t.Error("expected compression under sustained load")
	}
}
