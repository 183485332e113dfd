package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/visionquest-ai/backend/internal/common"
	"github.com/visionquest-ai/backend/internal/jobs"
)

// StatusByPath answers GET /status/:job_id.
func (h *Handler) StatusByPath(c *gin.Context) {
	h.status(c, c.Param("job_id"))
}

// StatusByBody answers POST /status with {"job_id": "..."}.
func (h *Handler) StatusByBody(c *gin.Context) {
	var req struct {
		JobID string `json:"job_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	h.status(c, req.JobID)
}

func (h *Handler) status(c *gin.Context, jobID string) {
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10010, "job_id is required")
		return
	}

	job, err := h.Repo.GetJob(c.Request.Context(), jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		// bare body kept for poller compatibility
		c.JSON(http.StatusNotFound, gin.H{"status": "NOT_FOUND"})
		return
	}
	if err != nil {
		h.Log.Error("job lookup failed", "job_id", jobID, "err", err)
		failInternal(c, 50010, "could not load job")
		return
	}
	common.Ok(c, job)
}
