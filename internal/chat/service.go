package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"

	"github.com/morphly-app/morphly/internal/ai"
	"github.com/morphly-app/morphly/internal/artifact"
	"github.com/morphly-app/morphly/internal/common"
	"github.com/morphly-app/morphly/internal/errs"
	"github.com/morphly-app/morphly/internal/metrics"
	"github.com/morphly-app/morphly/internal/resume"
)

// TitlePublisher enqueues an async title-generation job for a new chat.
type TitlePublisher interface {
	PublishTitleJob(ctx context.Context, chatID, prompt string) error
}

// Service drives one request/response cycle of a conversation: persist the
// user message, mint the resumable stream handle, run the tool-calling model
// loop, and persist the assistant response when the stream completes.
type Service struct {
	repo         *Repo
	docs         *artifact.Builder
	registry     *ai.Registry
	providerName string
	streams      *resume.Context
	titles       TitlePublisher
	maxToolSteps int
}

func NewService(repo *Repo, docs *artifact.Builder, registry *ai.Registry, providerName string, streams *resume.Context, titles TitlePublisher, maxToolSteps int) *Service {
	if maxToolSteps <= 0 || maxToolSteps > 10 {
		maxToolSteps = 4
	}
	return &Service{
		repo:         repo,
		docs:         docs,
		registry:     registry,
		providerName: providerName,
		streams:      streams,
		titles:       titles,
		maxToolSteps: maxToolSteps,
	}
}

type TurnInput struct {
	ChatID    string
	UserID    uint64
	Model     string
	MessageID string
	Parts     []Part
}

// firstText returns the text of the first text part, used to seed titles.
func firstText(parts []Part) string {
	for _, p := range parts {
		if p.Type == PartText && p.Text != "" {
			return p.Text
		}
	}
	return ""
}

const maxTitleRunes = 80

// ClampTitle caps a title at 80 characters. Cutting happens on rune
// boundaries; a byte-indexed cut can split a multi-byte character and persist
// invalid UTF-8.
func ClampTitle(s string) string {
	if utf8.RuneCountInString(s) <= maxTitleRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxTitleRunes])
}

// StartTurn performs the durable prefix of a turn (chat creation, user
// message, stream handle) and launches generation detached from the request
// context: a client that aborts can resume later and still gets the full
// response persisted. Returns the stream id the caller should subscribe to.
func (s *Service) StartTurn(ctx context.Context, in TurnInput) (string, error) {
	existing, err := s.repo.GetChatByID(ctx, in.ChatID)
	if err != nil {
		return "", err
	}

	if existing == nil {
		// Placeholder title now; the worker backfills the generated one.
		title := ClampTitle(firstText(in.Parts))
		if title == "" {
			title = "New chat"
		}
		c := &Chat{ID: in.ChatID, UserID: in.UserID, Title: title}
		if err := s.repo.CreateChat(ctx, c); err != nil {
			return "", err
		}
		if s.titles != nil {
			if err := s.titles.PublishTitleJob(ctx, in.ChatID, firstText(in.Parts)); err != nil {
				log.Warn().Err(err).Str("chat_id", in.ChatID).Msg("failed to enqueue title job")
			}
		}
		existing = c
	} else if existing.UserID != in.UserID {
		return "", errs.New(errs.Forbidden, errs.Chat)
	}

	userMsg := Message{
		ID:     in.MessageID,
		ChatID: in.ChatID,
		Role:   RoleUser,
		Parts:  datatypes.NewJSONType(in.Parts),
	}
	if err := s.repo.CreateMessages(ctx, []Message{userMsg}); err != nil {
		return "", err
	}

	history, err := s.repo.ListMessages(ctx, in.ChatID)
	if err != nil {
		return "", err
	}

	streamID, err := common.NewULID()
	if err != nil {
		return "", err
	}
	// The handle is durable before any token is produced, so a client that
	// disconnects right after submitting can still find it.
	if err := s.repo.CreateStream(ctx, &Stream{ID: streamID, ChatID: in.ChatID}); err != nil {
		return "", err
	}

	metrics.Global().TurnsStarted.Inc()

	go s.generate(context.Background(), existing, in.Model, history, streamID)

	return streamID, nil
}

// toProviderMessages flattens persisted transcript messages into the shape
// the model consumes. Tool parts from earlier turns are summarized as text so
// the model keeps document ids in context.
func toProviderMessages(history []Message) []ai.Message {
	out := make([]ai.Message, 0, len(history)+1)
	out = append(out, ai.Message{Role: RoleSystem, Content: ai.ChatSystemPrompt})
	for _, m := range history {
		var sb strings.Builder
		for _, p := range m.Parts.Data() {
			switch p.Type {
			case PartText:
				sb.WriteString(p.Text)
			case PartToolOutput:
				if len(p.Output) > 0 {
					sb.WriteString("\n[tool ")
					sb.WriteString(p.ToolName)
					sb.WriteString(" result: ")
					sb.Write(p.Output)
					sb.WriteString("]")
				}
			}
		}
		if sb.Len() == 0 {
			continue
		}
		out = append(out, ai.Message{Role: m.Role, Content: sb.String()})
	}
	return out
}

func (s *Service) generate(ctx context.Context, c *Chat, model string, history []Message, streamID string) {
	pub := s.streams.NewPublisher(streamID)
	start := time.Now()

	s.send(ctx, pub, "start", map[string]string{"chatId": c.ID, "streamId": streamID})

	parts, genErr := s.runModelLoop(ctx, c, model, history, pub)

	// Partial content already sent is not retracted; the persisted message
	// reflects only what was actually produced.
	if len(parts) > 0 {
		msg := Message{
			ID:     uuid.NewString(),
			ChatID: c.ID,
			Role:   RoleAssistant,
			Parts:  datatypes.NewJSONType(parts),
		}
		if err := s.repo.CreateMessages(ctx, []Message{msg}); err != nil {
			log.Error().Err(err).Str("chat_id", c.ID).Msg("failed to persist assistant message")
			if genErr == nil {
				genErr = err
			}
		}
	}

	if genErr != nil {
		metrics.Global().TurnsFailed.Inc()
		log.Error().Err(genErr).Str("chat_id", c.ID).Str("stream_id", streamID).Msg("turn failed")
		s.send(ctx, pub, "error", map[string]string{"message": "Oops, an error occurred!"})
	} else {
		metrics.Global().TurnsCompleted.Inc()
		log.Info().
			Str("chat_id", c.ID).
			Str("stream_id", streamID).
			Dur("took", time.Since(start)).
			Msg("turn completed")
	}

	s.send(ctx, pub, "finish", nil)
	if err := pub.Close(ctx); err != nil {
		log.Error().Err(err).Str("stream_id", streamID).Msg("failed to close stream")
	}
}

// runModelLoop streams model output, executing tool calls between steps and
// feeding their results back, until the model stops requesting tools or the
// step budget runs out. It returns the assistant message parts produced, in
// stream order, even when it also returns an error.
func (s *Service) runModelLoop(ctx context.Context, c *Chat, model string, history []Message, pub *resume.Publisher) ([]Part, error) {
	msgs := toProviderMessages(history)
	var parts []Part

	for step := 0; step < s.maxToolSteps; step++ {
		provider, err := s.registry.Get(s.providerName, model)
		if err != nil {
			return parts, err
		}
		sp, ok := provider.(ai.StreamProvider)
		if !ok {
			return parts, errors.New("provider does not support streaming")
		}

		events, errsCh := sp.StreamChat(ctx, msgs, turnTools())

		var text strings.Builder
		var calls []ai.ToolCall
		for ev := range events {
			if ev.TextDelta != "" {
				text.WriteString(ev.TextDelta)
				s.send(ctx, pub, "text-delta", ev.TextDelta)
			}
			if ev.ToolCall != nil {
				calls = append(calls, *ev.ToolCall)
			}
		}

		select {
		case err := <-errsCh:
			if err != nil {
				if text.Len() > 0 {
					parts = append(parts, Part{Type: PartText, Text: text.String()})
				}
				return parts, err
			}
		default:
		}

		if text.Len() > 0 {
			parts = append(parts, Part{Type: PartText, Text: text.String()})
		}

		if len(calls) == 0 {
			return parts, nil
		}

		msgs = append(msgs, ai.Message{Role: RoleAssistant, Content: text.String(), ToolCalls: calls})

		for _, call := range calls {
			metrics.Global().ToolCalls.Inc()

			input := json.RawMessage(call.Arguments)
			s.send(ctx, pub, "tool-input", map[string]any{
				"toolCallId": call.ID,
				"toolName":   call.Name,
				"input":      input,
			})
			parts = append(parts, Part{
				Type:       PartToolInput,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Input:      input,
			})

			result := s.dispatchTool(ctx, c, model, call, pub)
			out, err := json.Marshal(result)
			if err != nil {
				return parts, err
			}

			s.send(ctx, pub, "tool-output", map[string]any{
				"toolCallId": call.ID,
				"output":     json.RawMessage(out),
			})
			parts = append(parts, Part{
				Type:       PartToolOutput,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Output:     out,
				IsError:    result.Error != "",
			})

			msgs = append(msgs, ai.Message{Role: "tool", ToolCallID: call.ID, Content: string(out)})
		}
	}

	return parts, nil
}

// dispatchTool executes one tool call. Failures are returned as tool-level
// error results so the model can react in-conversation; they never abort the
// turn.
func (s *Service) dispatchTool(ctx context.Context, c *Chat, model string, call ai.ToolCall, pub *resume.Publisher) toolResult {
	switch call.Name {
	case toolCreateDocument:
		var args createDocumentArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return toolResult{Error: "invalid createDocument arguments"}
		}
		doc, err := s.docs.Create(ctx, artifact.CreateInput{
			ChatID: c.ID,
			UserID: c.UserID,
			Title:  args.Title,
			Kind:   args.Kind,
			Model:  model,
		}, pub)
		if err != nil {
			log.Error().Err(err).Str("chat_id", c.ID).Msg("createDocument tool failed")
			return toolResult{Error: "Failed to create the document: " + err.Error()}
		}
		return toolResult{
			ID:      doc.DocID,
			Title:   doc.Title,
			Kind:    doc.Kind,
			Content: "A document was created and is now visible to the user.",
		}

	case toolUpdateDocument:
		var args updateDocumentArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return toolResult{Error: "invalid updateDocument arguments"}
		}
		doc, err := s.docs.Update(ctx, artifact.UpdateInput{
			DocID:       args.ID,
			Description: args.Description,
			UserID:      c.UserID,
			Model:       model,
		}, pub)
		if err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				return toolResult{Error: "Document not found"}
			}
			log.Error().Err(err).Str("chat_id", c.ID).Msg("updateDocument tool failed")
			return toolResult{Error: "Failed to update the document: " + err.Error()}
		}
		return toolResult{
			ID:      doc.DocID,
			Title:   doc.Title,
			Kind:    doc.Kind,
			Content: "The document has been updated successfully.",
		}

	default:
		return toolResult{Error: "unknown tool: " + call.Name}
	}
}

func (s *Service) send(ctx context.Context, pub *resume.Publisher, typ string, v any) {
	ev, err := resume.NewEvent(typ, v)
	if err != nil {
		log.Error().Err(err).Str("event", typ).Msg("failed to build stream event")
		return
	}
	if err := pub.Send(ctx, ev); err != nil {
		log.Error().Err(err).Str("event", typ).Msg("failed to publish stream event")
	}
}
