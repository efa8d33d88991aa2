package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// adminListUsers serves the operator console. The role gate runs in
// middleware, so reaching this handler means the caller is an admin.
func (h *Handler) adminListUsers(c *gin.Context) {
	users, err := h.assistant.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "list users failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": users})
}
