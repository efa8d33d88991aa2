package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type synthesizeRequest struct {
	Text string `json:"text"`
}

func (h *Handler) synthesizeSpeech(c *gin.Context) {
	if h.speech == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "speech is not configured"})
		return
	}
	var req synthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text cannot be empty"})
		return
	}
	audio, err := h.speech.Synthesize(c.Request.Context(), req.Text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "synthesis failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audio": audio})
}

type transcribeRequest struct {
	Audio string `json:"audio"`
}

func (h *Handler) transcribeSpeech(c *gin.Context) {
	if h.speech == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "speech is not configured"})
		return
	}
	var req transcribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Audio == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio cannot be empty"})
		return
	}
	text, err := h.speech.Transcribe(c.Request.Context(), req.Audio)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}
