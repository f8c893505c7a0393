package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/morphly-app/morphly/internal/chat"
	"github.com/morphly-app/morphly/internal/errs"
	"github.com/morphly-app/morphly/internal/httpapi/middleware"
)

// GetVotes returns the votes of a chat owned by the requester.
func (h *Handler) GetVotes(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		respondErr(c, errs.New(errs.Unauthorized, errs.Vote))
		return
	}

	chatID := c.Query("chatId")
	if chatID == "" {
		respondErr(c, errs.Newf(errs.BadRequest, errs.API, "Parameter chatId is required."))
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
		respondErr(c, errs.New(errs.Forbidden, errs.Vote))
		return
	}

	votes, err := h.ChatRepo.ListVotes(c.Request.Context(), chatID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, votes)
}

type patchVoteReq struct {
	ChatID    string `json:"chatId" binding:"required"`
	MessageID string `json:"messageId" binding:"required"`
	Type      string `json:"type" binding:"required,oneof=up down"`
}

// PatchVote upserts a vote on (chat, message). Re-voting overwrites; there is
// no way to remove a vote once cast.
func (h *Handler) PatchVote(c *gin.Context) {
	var req patchVoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errs.Newf(errs.BadRequest, errs.API, "invalid vote body"))
		return
	}

	uid, ok := middleware.UserID(c)
	if !ok {
		respondErr(c, errs.New(errs.Unauthorized, errs.Vote))
		return
	}

	ch, err := h.ChatRepo.GetChatByID(c.Request.Context(), req.ChatID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if ch == nil {
		respondErr(c, errs.New(errs.NotFound, errs.Vote))
		return
	}
	if ch.UserID != uid {
		respondErr(c, errs.New(errs.Forbidden, errs.Vote))
		return
	}

	belongs, err := h.ChatRepo.MessageBelongsToChat(c.Request.Context(), req.ChatID, req.MessageID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !belongs {
		respondErr(c, errs.Newf(errs.Forbidden, errs.Vote, "Message does not belong to this chat"))
		return
	}

	if err := h.ChatRepo.UpsertVote(c.Request.Context(), &chat.Vote{
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		IsUpvote:  req.Type == "up",
	}); err != nil {
		respondErr(c, err)
		return
	}

	c.String(http.StatusOK, "Message voted")
}
