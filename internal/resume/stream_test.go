package resume

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewContext(rdb, time.Minute)
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for stream to close, got %d events", len(out))
		}
	}
}

func TestSubscribe_ReplaysCompletedStream(t *testing.T) {
	c := newTestContext(t)
	ctx := context.Background()

	pub := c.NewPublisher("stream-replay-1")
	for _, typ := range []string{"start", "text-delta", "finish"} {
		ev, err := NewEvent(typ, map[string]string{"v": typ})
		if err != nil {
			t.Fatalf("new event: %v", err)
		}
		if err := pub.Send(ctx, ev); err != nil {
			t.Fatalf("send %s: %v", typ, err)
		}
	}
	if err := pub.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	events, errs := c.Subscribe(ctx, "stream-replay-1")
	got := collect(t, events)

	if err, ok := <-errs; ok && err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	want := []string{"start", "text-delta", "finish"}
	for i, ev := range got {
		if ev.Type != want[i] {
			t.Fatalf("event %d: expected type %q, got %q", i, want[i], ev.Type)
		}
	}
}

func TestSubscribe_TailsLivePublisher(t *testing.T) {
	c := newTestContext(t)
	ctx := context.Background()

	pub := c.NewPublisher("stream-tail-1")
	first, _ := NewEvent("start", nil)
	if err := pub.Send(ctx, first); err != nil {
		t.Fatalf("send: %v", err)
	}

	events, _ := c.Subscribe(ctx, "stream-tail-1")

	go func() {
		ev, _ := NewEvent("text-delta", "hello")
		_ = pub.Send(ctx, ev)
		_ = pub.Close(ctx)
	}()

	got := collect(t, events)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != "start" || got[1].Type != "text-delta" {
		t.Fatalf("unexpected event order: %q, %q", got[0].Type, got[1].Type)
	}
}

func TestLive(t *testing.T) {
	c := newTestContext(t)
	ctx := context.Background()

	live, err := c.Live(ctx, "stream-live-1")
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if live {
		t.Fatalf("expected missing stream to not be live")
	}

	pub := c.NewPublisher("stream-live-1")
	ev, _ := NewEvent("start", nil)
	if err := pub.Send(ctx, ev); err != nil {
		t.Fatalf("send: %v", err)
	}

	live, err = c.Live(ctx, "stream-live-1")
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if !live {
		t.Fatalf("expected stream with events to be live")
	}

	if err := pub.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	live, err = c.Live(ctx, "stream-live-1")
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if live {
		t.Fatalf("expected closed stream to not be live")
	}
}
