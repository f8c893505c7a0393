package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/morphly-app/morphly/internal/cad"
	"github.com/morphly-app/morphly/internal/errs"
	"github.com/morphly-app/morphly/internal/httpapi/middleware"
)

type cadQueryReq struct {
	Code string `json:"code" binding:"required"`
}

// PostCadQuery executes CadQuery source directly, without touching any chat
// or document state.
func (h *Handler) PostCadQuery(c *gin.Context) {
	if _, ok := middleware.UserID(c); !ok {
		respondErr(c, errs.New(errs.Unauthorized, errs.API))
		return
	}

	var req cadQueryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errs.Newf(errs.BadRequest, errs.API, "Invalid request body"))
		return
	}

	result, err := h.Executor.Execute(c.Request.Context(), req.Code)
	if err != nil {
		var ee *cad.ExecError
		if errors.As(err, &ee) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  "CadQuery execution failed",
				"detail": ee.Message,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "CadQuery execution failed",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
