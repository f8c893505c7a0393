package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // set on assistant messages that requested tools
	ToolCallID string     // set on role "tool" result messages
}

// ToolCall is a structured request emitted by the model mid-generation.
// Arguments is the raw JSON the model produced for the tool's input schema.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StreamEvent is one element of a model output stream. Exactly one field is
// set: TextDelta for incremental content, ToolCall for a completed tool
// request (emitted once its arguments are fully accumulated).
type StreamEvent struct {
	TextDelta string
	ToolCall  *ToolCall
}

// StreamProvider is an optional interface. Providers may implement streaming
// chat with tool calling.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, <-chan error)
}

// ProviderFactory builds a provider for the model a turn selected. The
// factory fills in the configured default when model is empty.
type ProviderFactory func(model string) (Provider, error)

// Registry routes a turn's provider name to its factory. Names are
// case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(name, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(model)
}
