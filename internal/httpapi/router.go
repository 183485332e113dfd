package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/visionquest-ai/backend/internal/common"
	"github.com/visionquest-ai/backend/internal/config"
	"github.com/visionquest-ai/backend/internal/httpapi/handlers"
	"github.com/visionquest-ai/backend/internal/httpapi/middleware"
	"github.com/visionquest-ai/backend/internal/logger"
)

func NewRouter(log *logger.Logger, cfg config.Config, h *handlers.Handler) *gin.Engine {
	if cfg.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.AccessLog(log))

	corsCfg := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Request-ID")
	r.Use(cors.New(corsCfg))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	api := r.Group("/")
	api.Use(middleware.AuthOptional(cfg.JWTSecret))
	api.POST("/ingest", h.Ingest)
	api.POST("/status", h.StatusByBody)
	api.GET("/status/:job_id", h.StatusByPath)
	api.GET("/history", h.History)
	api.GET("/history/chats", h.Chats)

	return r
}
