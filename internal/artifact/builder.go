package artifact

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/morphly-app/morphly/internal/ai"
	"github.com/morphly-app/morphly/internal/cad"
	"github.com/morphly-app/morphly/internal/metrics"
	"github.com/morphly-app/morphly/internal/resume"
)

// ErrNotFound is a tool-level failure: the model referenced a document that
// does not exist (or is not the caller's), and should be told so
// in-conversation rather than aborting the turn.
var ErrNotFound = errors.New("document not found")

// PreviewSetter backfills a chat's preview image once a render succeeds.
type PreviewSetter interface {
	SetChatPreview(ctx context.Context, chatID, svgURL string) error
}

// Builder translates a model tool call into a persisted, rendered document
// version, streaming code deltas to the client as they are generated.
type Builder struct {
	repo         *Repo
	registry     *ai.Registry
	providerName string
	executor     *cad.Executor
	previews     PreviewSetter
}

func NewBuilder(repo *Repo, registry *ai.Registry, providerName string, executor *cad.Executor, previews PreviewSetter) *Builder {
	return &Builder{
		repo:         repo,
		registry:     registry,
		providerName: providerName,
		executor:     executor,
		previews:     previews,
	}
}

type CreateInput struct {
	ChatID string
	UserID uint64
	Title  string
	Kind   string
	Model  string
}

type UpdateInput struct {
	DocID       string
	Description string
	UserID      uint64
	Model       string
}

// Create mints a new logical document: streams generated code, persists the
// version, renders it, and writes the artifact URLs back. An executor failure
// leaves the version unrendered (content present, no URLs) and is returned to
// the caller as a tool error; it is not retried.
func (b *Builder) Create(ctx context.Context, in CreateInput, pub *resume.Publisher) (*Document, error) {
	docID := uuid.NewString()
	kind := in.Kind
	if kind == "" {
		kind = KindCode
	}

	b.announce(ctx, pub, docID, in.Title, kind)

	content, err := b.streamCode(ctx, pub, ai.CodePrompt, in.Title, in.Model)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		DocID:   docID,
		ChatID:  in.ChatID,
		UserID:  in.UserID,
		Title:   in.Title,
		Content: content,
		Kind:    kind,
	}
	if err := b.repo.CreateVersion(ctx, doc); err != nil {
		return nil, err
	}

	return b.render(ctx, doc, pub)
}

// Update produces a new version of an existing logical document seeded with
// the prior content and the requested change. The old version is never
// mutated.
func (b *Builder) Update(ctx context.Context, in UpdateInput, pub *resume.Publisher) (*Document, error) {
	prior, err := b.repo.GetLatest(ctx, in.DocID)
	if err != nil {
		return nil, err
	}
	if prior == nil || prior.UserID != in.UserID {
		return nil, ErrNotFound
	}

	b.send(ctx, pub, "data-clear", nil)

	content, err := b.streamCode(ctx, pub, ai.UpdateCodePrompt(prior.Content), in.Description, in.Model)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		DocID:   prior.DocID,
		ChatID:  prior.ChatID,
		UserID:  prior.UserID,
		Title:   prior.Title,
		Content: content,
		Kind:    prior.Kind,
	}
	if err := b.repo.CreateVersion(ctx, doc); err != nil {
		return nil, err
	}

	return b.render(ctx, doc, pub)
}

func (b *Builder) announce(ctx context.Context, pub *resume.Publisher, docID, title, kind string) {
	b.send(ctx, pub, "data-kind", kind)
	b.send(ctx, pub, "data-id", docID)
	b.send(ctx, pub, "data-title", title)
	b.send(ctx, pub, "data-clear", nil)
}

// streamCode runs the nested code generation call, forwarding deltas to the
// client and returning the accumulated source.
func (b *Builder) streamCode(ctx context.Context, pub *resume.Publisher, system, prompt, model string) (string, error) {
	provider, err := b.registry.Get(b.providerName, model)
	if err != nil {
		return "", err
	}
	sp, ok := provider.(ai.StreamProvider)
	if !ok {
		return "", errors.New("provider does not support streaming")
	}

	events, errs := sp.StreamChat(ctx, []ai.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}, nil)

	var sb strings.Builder
	for ev := range events {
		if ev.TextDelta == "" {
			continue
		}
		sb.WriteString(ev.TextDelta)
		b.send(ctx, pub, "data-codeDelta", ev.TextDelta)
	}

	select {
	case err := <-errs:
		if err != nil {
			return "", err
		}
	default:
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", errors.New("code generation produced no output")
	}
	return content, nil
}

// render calls the remote executor and persists all three artifact URLs, or
// none of them on failure.
func (b *Builder) render(ctx context.Context, doc *Document, pub *resume.Publisher) (*Document, error) {
	res, err := b.executor.Execute(ctx, doc.Content)
	if err != nil {
		metrics.Global().ExecutorFailures.Inc()
		log.Error().Err(err).Str("doc_id", doc.DocID).Msg("executor failed, document left unrendered")
		return doc, err
	}

	if err := b.repo.SetArtifactURLs(ctx, doc.RowID, res); err != nil {
		return doc, err
	}
	doc.StlURL = &res.StlURL
	doc.StpURL = &res.StpURL
	doc.SvgURL = &res.SvgURL

	if b.previews != nil {
		if err := b.previews.SetChatPreview(ctx, doc.ChatID, res.SvgURL); err != nil {
			log.Warn().Err(err).Str("chat_id", doc.ChatID).Msg("failed to backfill chat preview")
		}
	}

	b.send(ctx, pub, "data-finish", doc)
	return doc, nil
}

func (b *Builder) send(ctx context.Context, pub *resume.Publisher, typ string, v any) {
	if pub == nil {
		return
	}
	ev, err := resume.NewEvent(typ, v)
	if err != nil {
		log.Error().Err(err).Str("event", typ).Msg("failed to build stream event")
		return
	}
	if err := pub.Send(ctx, ev); err != nil {
		log.Error().Err(err).Str("event", typ).Msg("failed to publish stream event")
	}
}
