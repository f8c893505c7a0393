package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/morphly-app/morphly/internal/ai"
	"github.com/morphly-app/morphly/internal/artifact"
	"github.com/morphly-app/morphly/internal/cad"
	"github.com/morphly-app/morphly/internal/chat"
	"github.com/morphly-app/morphly/internal/config"
	"github.com/morphly-app/morphly/internal/errs"
	"github.com/morphly-app/morphly/internal/resume"
)

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	ChatSvc  *chat.Service
	ChatRepo *chat.Repo
	DocRepo  *artifact.Repo
	Streams  *resume.Context
	Executor *cad.Executor
}

func NewHandler(db *gorm.DB, cfg config.Config, rdb *redis.Client, titles chat.TitlePublisher) *Handler {
	chatRepo := chat.NewRepo(db)
	docRepo := artifact.NewRepo(db)
	executor := cad.NewExecutor(cfg.ExecutorURL, cfg.ExecutorTimeout)
	streams := resume.NewContext(rdb, cfg.StreamTTL)

	registry := ai.NewRegistry()
	registry.Register("openrouter", func(model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	builder := artifact.NewBuilder(docRepo, registry, cfg.AIProvider, executor, chatRepo)
	chatSvc := chat.NewService(chatRepo, builder, registry, cfg.AIProvider, streams, titles, cfg.MaxToolSteps)

	return &Handler{
		DB:       db,
		Cfg:      cfg,
		ChatSvc:  chatSvc,
		ChatRepo: chatRepo,
		DocRepo:  docRepo,
		Streams:  streams,
		Executor: executor,
	}
}

func respondErr(c *gin.Context, err error) {
	e := errs.From(err)
	c.JSON(e.Status(), e.Envelope())
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(200, gin.H{"message": "pong"})
}
