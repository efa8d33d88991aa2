package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"beepgenesis/internal/models"
)

// The rpc group mirrors a remote-procedure surface: every response carries a
// success flag, and failures are reported rather than swallowed.

type saveChatHistoryRequest struct {
	Messages []models.ChatMessage `json:"messages"`
}

func (h *Handler) rpcSaveChatHistory(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req saveChatHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	if req.Messages == nil {
		req.Messages = []models.ChatMessage{}
	}
	if err := h.assistant.SaveHistory(c.Request.Context(), userID, req.Messages); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "save history failed"})
		return
	}
	h.workers.Purge(userID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) rpcGetChatHistory(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	messages, err := h.assistant.GetHistory(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "history fetch failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": messages})
}

func (h *Handler) rpcListUsers(c *gin.Context) {
	users, err := h.assistant.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "list users failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": users})
}
