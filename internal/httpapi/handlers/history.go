package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/visionquest-ai/backend/internal/common"
)

// History answers GET /history?chat_id=... with the chat's jobs in
// submission order.
func (h *Handler) History(c *gin.Context) {
	chatID := c.Query("chat_id")
	if chatID == "" {
		common.Fail(c, http.StatusBadRequest, 10020, "chat_id is required")
		return
	}
	userID := callerID(c, c.Query("user_id"))

	list, err := h.Repo.ListChatJobs(c.Request.Context(), userID, chatID)
	if err != nil {
		h.Log.Error("history lookup failed", "chat_id", chatID, "err", err)
		failInternal(c, 50020, "could not load history")
		return
	}
	common.Ok(c, gin.H{"chat_id": chatID, "jobs": list})
}

// Chats answers GET /history/chats with the caller's chats, most
// recently active first.
func (h *Handler) Chats(c *gin.Context) {
	userID := callerID(c, c.Query("user_id"))

	list, err := h.Repo.ListChats(c.Request.Context(), userID)
	if err != nil {
		h.Log.Error("chat list failed", "user_id", userID, "err", err)
		failInternal(c, 50021, "could not load chats")
		return
	}
	common.Ok(c, gin.H{"chats": list})
}
