package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/visionquest-ai/backend/internal/common"
	"github.com/visionquest-ai/backend/internal/config"
	"github.com/visionquest-ai/backend/internal/events"
	"github.com/visionquest-ai/backend/internal/httpapi/middleware"
	"github.com/visionquest-ai/backend/internal/jobs"
	"github.com/visionquest-ai/backend/internal/logger"
	"github.com/visionquest-ai/backend/internal/storage"
)

// Publisher is the slice of the event publisher the API needs.
type Publisher interface {
	Publish(ctx context.Context, ev events.StorageEvent) error
}

type Handler struct {
	Log     *logger.Logger
	Cfg     config.Config
	Repo    *jobs.Repo
	Objects storage.ObjectStore
	Events  Publisher
}

func NewHandler(log *logger.Logger, cfg config.Config, repo *jobs.Repo,
	objects storage.ObjectStore, pub Publisher) *Handler {
	return &Handler{Log: log, Cfg: cfg, Repo: repo, Objects: objects, Events: pub}
}

func (h *Handler) Ping(c *gin.Context) {
	common.Ok(c, gin.H{"message": "pong"})
}

// callerID prefers the authenticated identity over whatever the body
// claims, and falls back to anonymous.
func callerID(c *gin.Context, bodyUserID string) string {
	if id := middleware.UserID(c); id != "" {
		return id
	}
	if bodyUserID != "" {
		return bodyUserID
	}
	return "anonymous"
}

func failInternal(c *gin.Context, code int, msg string) {
	common.Fail(c, http.StatusInternalServerError, code, msg)
}
