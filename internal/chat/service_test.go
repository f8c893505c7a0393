package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/morphly-app/morphly/internal/ai"
	"github.com/morphly-app/morphly/internal/artifact"
	"github.com/morphly-app/morphly/internal/cad"
	"github.com/morphly-app/morphly/internal/errs"
	"github.com/morphly-app/morphly/internal/resume"
)

// scriptedProvider pops one step per StreamChat call, shared across the turn
// loop and nested code generation.
type scriptedStep struct {
	text  string
	calls []ai.ToolCall
}

type scriptedProvider struct {
	mu    sync.Mutex
	steps []scriptedStep
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	_ = messages
	return "ok", nil
}

func (p *scriptedProvider) StreamChat(ctx context.Context, messages []ai.Message, tools []ai.Tool) (<-chan ai.StreamEvent, <-chan error) {
	_ = ctx
	_ = messages
	_ = tools

	p.mu.Lock()
	var step scriptedStep
	if len(p.steps) > 0 {
		step = p.steps[0]
		p.steps = p.steps[1:]
	}
	p.mu.Unlock()

	events := make(chan ai.StreamEvent, len(step.calls)+1)
	errsCh := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errsCh)
		if step.text != "" {
			events <- ai.StreamEvent{TextDelta: step.text}
		}
		for i := range step.calls {
			call := step.calls[i]
			events <- ai.StreamEvent{ToolCall: &call}
		}
	}()
	return events, errsCh
}

func newTestStreams(t *testing.T) *resume.Context {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return resume.NewContext(rdb, time.Minute)
}

func newTestService(t *testing.T, prov *scriptedProvider, executorURL string) (*Service, *Repo, *resume.Context) {
	t.Helper()
	db := openTestDB(t)
	repo := NewRepo(db)
	streams := newTestStreams(t)

	reg := ai.NewRegistry()
	reg.Register("fake", func(model string) (ai.Provider, error) {
		_ = model
		return prov, nil
	})

	executor := cad.NewExecutor(executorURL, 5*time.Second)
	docs := artifact.NewBuilder(artifact.NewRepo(db), reg, "fake", executor, repo)
	svc := NewService(repo, docs, reg, "fake", streams, nil, 4)
	return svc, repo, streams
}

// drainStream reads the turn's events until the terminal marker.
func drainStream(t *testing.T, streams *resume.Context, streamID string) []resume.Event {
	t.Helper()
	events, errsCh := streams.Subscribe(context.Background(), streamID)
	var out []resume.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if err, open := <-errsCh; open && err != nil {
					t.Fatalf("subscribe error: %v", err)
				}
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out draining stream, got %d events", len(out))
		}
	}
}

func eventTypes(events []resume.Event) map[string]int {
	types := map[string]int{}
	for _, ev := range events {
		types[ev.Type]++
	}
	return types
}

func TestStartTurn_PersistsUserAndAssistant(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptedStep{{text: "Hello there!"}}}
	svc, repo, streams := newTestService(t, prov, "http://127.0.0.1:0")
	ctx := context.Background()

	streamID, err := svc.StartTurn(ctx, TurnInput{
		ChatID:    "chat-turn-1",
		UserID:    7,
		Model:     "default",
		MessageID: "msg-turn-1",
		Parts:     []Part{{Type: PartText, Text: "make me a cube"}},
	})
	if err != nil {
		t.Fatalf("start turn: %v", err)
	}
	if streamID == "" {
		t.Fatalf("expected stream id")
	}

	got := drainStream(t, streams, streamID)
	types := eventTypes(got)
	if types["start"] != 1 || types["finish"] != 1 {
		t.Fatalf("expected start and finish events, got %v", types)
	}
	if types["text-delta"] == 0 {
		t.Fatalf("expected text deltas, got %v", types)
	}
	if types["error"] != 0 {
		t.Fatalf("unexpected error event: %v", types)
	}

	c, err := repo.GetChatByID(ctx, "chat-turn-1")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if c == nil || c.Title != "make me a cube" {
		t.Fatalf("expected chat with seeded title, got %+v", c)
	}

	msgs, err := repo.ListMessages(ctx, "chat-turn-1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	parts := msgs[1].Parts.Data()
	if len(parts) != 1 || parts[0].Type != PartText || parts[0].Text != "Hello there!" {
		t.Fatalf("unexpected assistant parts: %+v", parts)
	}

	s, err := repo.LatestStream(ctx, "chat-turn-1")
	if err != nil {
		t.Fatalf("latest stream: %v", err)
	}
	if s == nil || s.ID != streamID {
		t.Fatalf("expected stream row %s, got %+v", streamID, s)
	}
}

func TestClampTitle(t *testing.T) {
	if got := ClampTitle("short title"); got != "short title" {
		t.Fatalf("expected short title untouched, got %q", got)
	}

	long := strings.Repeat("三", 100)
	got := ClampTitle(long)
	if !utf8.ValidString(got) {
		t.Fatalf("clamped title is invalid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 80 {
		t.Fatalf("expected 80 runes, got %d", n)
	}

	exact := strings.Repeat("三", 80)
	if got := ClampTitle(exact); got != exact {
		t.Fatalf("expected 80-rune title untouched")
	}
}

func TestStartTurn_MultibyteTitleStaysValidUTF8(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptedStep{{text: "ok"}}}
	svc, repo, streams := newTestService(t, prov, "http://127.0.0.1:0")
	ctx := context.Background()

	// 40 runes, 120 bytes: a byte-indexed cut at 80 would split a rune.
	text := strings.Repeat("三", 40)
	streamID, err := svc.StartTurn(ctx, TurnInput{
		ChatID:    "chat-utf8-1",
		UserID:    5,
		Model:     "default",
		MessageID: "msg-utf8-1",
		Parts:     []Part{{Type: PartText, Text: text}},
	})
	if err != nil {
		t.Fatalf("start turn: %v", err)
	}
	drainStream(t, streams, streamID)

	c, err := repo.GetChatByID(ctx, "chat-utf8-1")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if !utf8.ValidString(c.Title) {
		t.Fatalf("persisted chat title is invalid UTF-8: %q", c.Title)
	}
	if c.Title != text {
		t.Fatalf("expected full 40-rune title, got %q", c.Title)
	}
}

func TestStartTurn_ForbiddenForOtherUsersChat(t *testing.T) {
	prov := &scriptedProvider{}
	svc, repo, _ := newTestService(t, prov, "http://127.0.0.1:0")
	ctx := context.Background()

	if err := repo.CreateChat(ctx, &Chat{ID: "chat-own-1", UserID: 1, Title: "mine"}); err != nil {
		t.Fatalf("create chat: %v", err)
	}

	_, err := svc.StartTurn(ctx, TurnInput{
		ChatID:    "chat-own-1",
		UserID:    2,
		Model:     "default",
		MessageID: "msg-own-1",
		Parts:     []Part{{Type: PartText, Text: "hi"}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if e := errs.From(err); e.Kind != errs.Forbidden || e.Subject != errs.Chat {
		t.Fatalf("expected forbidden:chat, got %s", e.Code())
	}
}

func TestStartTurn_ToolCallCreatesRenderedDocument(t *testing.T) {
	exec := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"statusCode": 200,
			"body": {
				"stl_url": "https://files.example.com/gear.stl",
				"svg_url": "https://files.example.com/gear.svg",
				"stp_url": "https://files.example.com/gear.stp"
			}
		}`))
	}))
	defer exec.Close()

	const code = "import cadquery as cq\nresult = cq.Workplane().box(10, 10, 10)"
	prov := &scriptedProvider{steps: []scriptedStep{
		{calls: []ai.ToolCall{{
			ID:        "call-1",
			Name:      "createDocument",
			Arguments: `{"title":"Gear","kind":"code"}`,
		}}},
		{text: code},
		{text: "Your gear is ready."},
	}}
	svc, repo, streams := newTestService(t, prov, exec.URL)
	ctx := context.Background()

	streamID, err := svc.StartTurn(ctx, TurnInput{
		ChatID:    "chat-tool-1",
		UserID:    9,
		Model:     "default",
		MessageID: "msg-tool-1",
		Parts:     []Part{{Type: PartText, Text: "design a gear"}},
	})
	if err != nil {
		t.Fatalf("start turn: %v", err)
	}

	got := drainStream(t, streams, streamID)
	types := eventTypes(got)
	for _, typ := range []string{"start", "tool-input", "tool-output", "data-kind", "data-id", "data-title", "data-codeDelta", "data-finish", "finish"} {
		if types[typ] == 0 {
			t.Fatalf("expected at least one %q event, got %v", typ, types)
		}
	}
	if types["error"] != 0 {
		t.Fatalf("unexpected error event: %v", types)
	}

	msgs, err := repo.ListMessages(ctx, "chat-tool-1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	parts := msgs[1].Parts.Data()
	if len(parts) != 3 {
		t.Fatalf("expected tool-input, tool-output and text parts, got %+v", parts)
	}
	if parts[0].Type != PartToolInput || parts[0].ToolName != "createDocument" {
		t.Fatalf("unexpected first part: %+v", parts[0])
	}
	if parts[1].Type != PartToolOutput || parts[1].IsError {
		t.Fatalf("unexpected second part: %+v", parts[1])
	}
	if parts[2].Type != PartText || parts[2].Text != "Your gear is ready." {
		t.Fatalf("unexpected third part: %+v", parts[2])
	}

	var docs []artifact.Document
	if err := repo.db.Where("chat_id = ?", "chat-tool-1").Find(&docs).Error; err != nil {
		t.Fatalf("query documents: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document version, got %d", len(docs))
	}
	if docs[0].Content != code || docs[0].Title != "Gear" {
		t.Fatalf("unexpected document: %+v", docs[0])
	}
	if !docs[0].Rendered() {
		t.Fatalf("expected document to be rendered, got %+v", docs[0])
	}

	c, err := repo.GetChatByID(ctx, "chat-tool-1")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if c.PreviewImageURL == nil || *c.PreviewImageURL != "https://files.example.com/gear.svg" {
		t.Fatalf("expected chat preview backfilled, got %+v", c.PreviewImageURL)
	}
}
