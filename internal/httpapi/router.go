package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/morphly-app/morphly/internal/chat"
	"github.com/morphly-app/morphly/internal/config"
	"github.com/morphly-app/morphly/internal/errs"
	"github.com/morphly-app/morphly/internal/httpapi/handlers"
	"github.com/morphly-app/morphly/internal/httpapi/middleware"
)

func NewRouter(db *gorm.DB, cfg config.Config, rdb *redis.Client, titles chat.TitlePublisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errs.Envelope{Code: "not_found:api", Cause: "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, errs.Envelope{Code: "bad_request:api", Cause: "method not allowed"})
	})

	h := handlers.NewHandler(db, cfg, rdb, titles)

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// Chat (JWT required)
	authGroup.POST("/api/chat", h.PostChat)
	authGroup.GET("/api/chat/:id/stream", h.ResumeChatStream)
	authGroup.GET("/api/chat/:id/messages", h.ListChatMessages)
	authGroup.DELETE("/api/chat/:id", h.DeleteChat)
	authGroup.GET("/api/chats", h.ListChats)

	// Documents & votes
	authGroup.GET("/api/document", h.GetDocument)
	authGroup.POST("/api/document", h.PostDocument)
	authGroup.GET("/api/vote", h.GetVotes)
	authGroup.PATCH("/api/vote", h.PatchVote)

	// Direct execution
	authGroup.POST("/api/cadquery", h.PostCadQuery)

	return r
}
