// Package resume holds in-flight turn output in redis streams so a client
// that disconnects mid-generation can reattach and replay the same events.
package resume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one element of a turn's output stream, delivered to the client as
// a server-sent event. Data is the JSON payload for the given type.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals v as the event payload. A nil v produces a bare event.
func NewEvent(typ string, v any) (Event, error) {
	if v == nil {
		return Event{Type: typ}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event %s: %w", typ, err)
	}
	return Event{Type: typ, Data: b}, nil
}

const (
	payloadField  = "payload"
	terminalField = "end"
)

// Context manages resumable stream handles. Streams live in redis under the
// id minted at turn start and expire after ttl; once the assistant message is
// durably persisted the handle is only needed for the freshness-window
// fallback.
type Context struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewContext(rdb *redis.Client, ttl time.Duration) *Context {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Context{rdb: rdb, ttl: ttl}
}

func streamKey(id string) string { return "resumable:" + id }

// Publisher appends a turn's events to its redis stream.
type Publisher struct {
	c  *Context
	id string
}

func (c *Context) NewPublisher(id string) *Publisher {
	return &Publisher{c: c, id: id}
}

func (p *Publisher) Send(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := streamKey(p.id)
	if err := p.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{payloadField: b},
	}).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return p.c.rdb.Expire(ctx, key, p.c.ttl).Err()
}

// Close appends the terminal marker. Subscribers stop after reading it.
func (p *Publisher) Close(ctx context.Context) error {
	key := streamKey(p.id)
	if err := p.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{terminalField: "1"},
	}).Err(); err != nil {
		return fmt.Errorf("xadd terminal: %w", err)
	}
	return p.c.rdb.Expire(ctx, key, p.c.ttl).Err()
}

// Live reports whether the stream exists and has not yet reached its
// terminal marker.
func (c *Context) Live(ctx context.Context, id string) (bool, error) {
	key := streamKey(id)
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	last, err := c.rdb.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return false, err
	}
	if len(last) == 0 {
		return true, nil
	}
	_, done := last[0].Values[terminalField]
	return !done, nil
}

// Subscribe replays the stream from the beginning and then follows the tail
// until the terminal marker, the context, or the stream ttl. Delivery is
// at-least-once from the caller's perspective: a resuming client may re-see
// events it already received, but never misses later ones.
func (c *Context) Subscribe(ctx context.Context, id string) (<-chan Event, <-chan error) {
	events := make(chan Event, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		ctx, cancel := context.WithTimeout(ctx, c.ttl)
		defer cancel()

		key := streamKey(id)
		lastID := "0-0"
		for {
			res, err := c.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   64,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				errs <- fmt.Errorf("xread: %w", err)
				return
			}

			for _, s := range res {
				for _, m := range s.Messages {
					lastID = m.ID

					if _, done := m.Values[terminalField]; done {
						return
					}

					raw, ok := m.Values[payloadField]
					if !ok {
						continue
					}
					var b []byte
					switch v := raw.(type) {
					case string:
						b = []byte(v)
					case []byte:
						b = v
					default:
						continue
					}

					var ev Event
					if err := json.Unmarshal(b, &ev); err != nil {
						continue
					}

					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return events, errs
}
