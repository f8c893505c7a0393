package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/morphly-app/morphly/internal/auth"
	"github.com/morphly-app/morphly/internal/errs"
)

const UserIDKey = "user_id"

func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			e := errs.New(errs.Unauthorized, errs.API)
			c.AbortWithStatusJSON(e.Status(), e.Envelope())
			return
		}
		claims, err := auth.ParseJWT(strings.TrimPrefix(header, "Bearer "), secret)
		if err != nil {
			e := errs.New(errs.Unauthorized, errs.API)
			c.AbortWithStatusJSON(e.Status(), e.Envelope())
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// UserID extracts the authenticated user, set by AuthRequired.
func UserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, errs.Envelope{
					Code:  "internal:api",
					Cause: "internal server error",
				})
			}
		}()
		c.Next()
	}
}
