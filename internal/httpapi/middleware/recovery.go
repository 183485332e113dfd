package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/visionquest-ai/backend/internal/common"
	"github.com/visionquest-ai/backend/internal/logger"
)

// Recovery converts panics into the standard envelope instead of a
// bare 500 and an empty body.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					"err", r,
					"path", c.Request.URL.Path,
					"request_id", c.GetString(RequestIDKey),
				)
				common.Fail(c, http.StatusInternalServerError, 50000, "internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
