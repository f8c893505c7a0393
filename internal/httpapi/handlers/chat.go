package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/morphly-app/morphly/internal/chat"
	"github.com/morphly-app/morphly/internal/errs"
	"github.com/morphly-app/morphly/internal/httpapi/middleware"
	"github.com/morphly-app/morphly/internal/metrics"
	"github.com/morphly-app/morphly/internal/resume"
)

type postChatPart struct {
	Type string `json:"type" binding:"required"`
	Text string `json:"text"`
}

type postChatMessage struct {
	ID    string         `json:"id" binding:"required"`
	Role  string         `json:"role" binding:"required"`
	Parts []postChatPart `json:"parts" binding:"required"`
}

type postChatReq struct {
	ID      string          `json:"id" binding:"required"`
	Message postChatMessage `json:"message" binding:"required"`
	Model   string          `json:"model" binding:"required"`
}

// PostChat runs one conversation turn and streams the response as SSE.
func (h *Handler) PostChat(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		respondErr(c, errs.New(errs.Unauthorized, errs.Chat))
		return
	}

	var req postChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errs.New(errs.BadRequest, errs.API))
		return
	}
	if req.Message.Role != chat.RoleUser {
		respondErr(c, errs.Newf(errs.BadRequest, errs.API, "message role must be user"))
		return
	}

	parts := make([]chat.Part, 0, len(req.Message.Parts))
	for _, p := range req.Message.Parts {
		if p.Type != chat.PartText || p.Text == "" {
			respondErr(c, errs.Newf(errs.BadRequest, errs.API, "unsupported message part"))
			return
		}
		parts = append(parts, chat.Part{Type: chat.PartText, Text: p.Text})
	}
	if len(parts) == 0 {
		respondErr(c, errs.Newf(errs.BadRequest, errs.API, "message has no parts"))
		return
	}

	streamID, err := h.ChatSvc.StartTurn(c.Request.Context(), chat.TurnInput{
		ChatID:    req.ID,
		UserID:    uid,
		Model:     req.Model,
		MessageID: req.Message.ID,
		Parts:     parts,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	h.streamSSE(c, streamID)
}

// ResumeChatStream re-attaches a client to the chat's most recent in-flight
// turn. 204 when there is nothing to resume; a completed-but-fresh turn is
// replayed from the persisted assistant message.
func (h *Handler) ResumeChatStream(c *gin.Context) {
	resumeRequestedAt := time.Now()

	uid, ok := middleware.UserID(c)
	if !ok {
		respondErr(c, errs.New(errs.Unauthorized, errs.Chat))
		return
	}

	chatID := c.Param("id")
	if chatID == "" {
		respondErr(c, errs.New(errs.BadRequest, errs.API))
		return
	}

	ch, err := h.ChatRepo.GetChatByID(c.Request.Context(), chatID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if ch == nil {
		respondErr(c, errs.New(errs.NotFound, errs.Chat))
		return
	}
	if ch.UserID != uid {
		respondErr(c, errs.New(errs.Forbidden, errs.Chat))
		return
	}

	latest, err := h.ChatRepo.LatestStream(c.Request.Context(), chatID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if latest == nil {
		c.Status(http.StatusNoContent)
		return
	}

	live, err := h.Streams.Live(c.Request.Context(), latest.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if live {
		metrics.Global().StreamsResumed.Inc()
		h.streamSSE(c, latest.ID)
		return
	}

	// The live stream has concluded (or its handle expired). Re-derive the
	// result from the last persisted assistant message, but only within the
	// freshness window; an older turn is stale, not resumable.
	last, err := h.ChatRepo.LastMessage(c.Request.Context(), chatID)
	if err != nil {
		respondErr(c, err)
		return
	}

	w, flusher, ok := sseWriter(c)
	if !ok {
		return
	}

	if last != nil && last.Role == chat.RoleAssistant &&
		resumeRequestedAt.Sub(last.CreatedAt) <= h.Cfg.ResumeFreshness {
		writeSSE(w, flusher, mustEvent("data-appendMessage", last))
		writeSSE(w, flusher, mustEvent("finish", nil))
	}
	// Stale or no assistant message: an empty event stream.
}

// DeleteChat removes a chat and cascades to its messages, documents, votes
// and streams.
func (h *Handler) DeleteChat(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		respondErr(c, errs.New(errs.Unauthorized, errs.Chat))
		return
	}

	chatID := c.Param("id")
	ch, err := h.ChatRepo.GetChatByID(c.Request.Context(), chatID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if ch == nil {
		respondErr(c, errs.New(errs.NotFound, errs.Chat))
		return
	}
	if ch.UserID != uid {
		respondErr(c, errs.New(errs.Forbidden, errs.Chat))
		return
	}

	if err := h.ChatRepo.DeleteChat(c.Request.Context(), chatID); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListChatMessages returns the chat's transcript, oldest first.
func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		respondErr(c, errs.New(errs.Unauthorized, errs.Chat))
		return
	}

	chatID := c.Param("id")
	ch, err := h.ChatRepo.GetChatByID(c.Request.Context(), chatID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if ch == nil {
		respondErr(c, errs.New(errs.NotFound, errs.Chat))
		return
	}
	if ch.UserID != uid {
		respondErr(c, errs.New(errs.Forbidden, errs.Chat))
		return
	}

	msgs, err := h.ChatRepo.ListMessages(c.Request.Context(), chatID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// ListChats pages through the user's chats, newest first.
func (h *Handler) ListChats(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		respondErr(c, errs.New(errs.Unauthorized, errs.Chat))
		return
	}

	var offset, limit int
	fmt.Sscan(c.DefaultQuery("offset", "0"), &offset)
	fmt.Sscan(c.DefaultQuery("limit", "20"), &limit)

	chats, err := h.ChatRepo.ListChats(c.Request.Context(), uid, offset, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// streamSSE subscribes to the resumable stream and forwards its events until
// the terminal marker, keeping the connection alive with heartbeats.
func (h *Handler) streamSSE(c *gin.Context, streamID string) {
	w, flusher, ok := sseWriter(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	events, errsCh := h.Streams.Subscribe(ctx, streamID)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, flusher, ev)

		case <-ticker.C:
			writeSSE(w, flusher, mustEvent("ping", time.Now().Unix()))

		case err, ok := <-errsCh:
			if !ok {
				// A nil channel blocks, so a closed errs channel stops
				// winning the select over the events drain.
				errsCh = nil
				continue
			}
			if err != nil {
				writeSSE(w, flusher, mustEvent("error", "stream interrupted"))
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func sseWriter(c *gin.Context) (http.ResponseWriter, http.Flusher, bool) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return nil, nil, false
	}
	return c.Writer, flusher, true
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev resume.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		// last-resort: send a simple error that won't break SSE framing
		fmt.Fprintf(w, "data: {\"type\":\"error\",\"data\":\"json marshal failed\"}\n\n")
		flusher.Flush()
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
	flusher.Flush()
}

func mustEvent(typ string, v any) resume.Event {
	ev, err := resume.NewEvent(typ, v)
	if err != nil {
		return resume.Event{Type: "error"}
	}
	return ev
}
