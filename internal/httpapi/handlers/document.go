package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/morphly-app/morphly/internal/artifact"
	"github.com/morphly-app/morphly/internal/errs"
	"github.com/morphly-app/morphly/internal/httpapi/middleware"
)

// GetDocument returns the full version history of a logical document, oldest
// first.
func (h *Handler) GetDocument(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		respondErr(c, errs.New(errs.Unauthorized, errs.Document))
		return
	}

	docID := c.Query("id")
	if docID == "" {
		respondErr(c, errs.Newf(errs.BadRequest, errs.API, "Parameter id is missing"))
		return
	}

	versions, err := h.DocRepo.ListVersions(c.Request.Context(), docID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if len(versions) == 0 {
		respondErr(c, errs.New(errs.NotFound, errs.Document))
		return
	}
	if versions[0].UserID != uid {
		respondErr(c, errs.New(errs.Forbidden, errs.Document))
		return
	}

	c.JSON(http.StatusOK, versions)
}

type postDocumentReq struct {
	Content string `json:"content" binding:"required"`
	Title   string `json:"title" binding:"required"`
	Kind    string `json:"kind" binding:"required,oneof=code"`
}

// PostDocument appends a new version to an existing logical document with
// caller-supplied content, e.g. after a manual edit in the code viewer. The
// prior version is never mutated and no render is triggered. First versions
// are minted by the turn's tool flow, so an unknown id is not found here.
func (h *Handler) PostDocument(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		respondErr(c, errs.New(errs.Unauthorized, errs.Document))
		return
	}

	docID := c.Query("id")
	if docID == "" {
		respondErr(c, errs.Newf(errs.BadRequest, errs.API, "Parameter id is required."))
		return
	}

	var req postDocumentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errs.New(errs.BadRequest, errs.API))
		return
	}

	prior, err := h.DocRepo.GetLatest(c.Request.Context(), docID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if prior == nil {
		respondErr(c, errs.New(errs.NotFound, errs.Document))
		return
	}
	if prior.UserID != uid {
		respondErr(c, errs.New(errs.Forbidden, errs.Document))
		return
	}

	doc := &artifact.Document{
		DocID:   docID,
		ChatID:  prior.ChatID,
		UserID:  uid,
		Title:   req.Title,
		Content: req.Content,
		Kind:    req.Kind,
	}
	if err := h.DocRepo.CreateVersion(c.Request.Context(), doc); err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}
