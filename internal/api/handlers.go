package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"beepgenesis/internal/auth"
	"beepgenesis/internal/models"
	"beepgenesis/internal/worker"
)

// genericFailureMessage is the only failure text end users ever see from the
// chat flow; real errors stay in the logs.
const genericFailureMessage = "Sorry, I encountered an error. Please try again."

type WorkerManager interface {
	Chat(worker.TurnRequest) (*models.ChatMessage, error)
	ResetUser(userID int64)
	Purge(userID int64)
}

// SpeechService is the voice adjunct; nil means the feature is degraded.
type SpeechService interface {
	Synthesize(ctx context.Context, text string) (string, error)
	Transcribe(ctx context.Context, audioDataURI string) (string, error)
}

// Assistant is the user/history service consumed by the handlers.
type Assistant interface {
	RegisterUser(ctx context.Context, username, email, password, persona string) (*models.User, error)
	CreateGuest(ctx context.Context) (*models.User, error)
	Login(ctx context.Context, username, password string) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	SetPersona(ctx context.Context, userID int64, persona string) (models.Persona, error)
	DeleteUser(ctx context.Context, id int64) error
	ListUsers(ctx context.Context) ([]models.UserSummary, error)
	SaveHistory(ctx context.Context, userID int64, messages []models.ChatMessage) error
	GetHistory(ctx context.Context, userID int64) ([]models.ChatMessage, error)
	ClearHistory(ctx context.Context, userID int64) error
}

// Handler wires HTTP routes to the assistant service, the per-user chat
// workers, and the speech adjunct.
type Handler struct {
	assistant Assistant
	auth      *auth.Service
	workers   WorkerManager
	speech    SpeechService
}

// NewHandler constructs a Handler instance.
func NewHandler(assistant Assistant, authService *auth.Service, workers WorkerManager, speechSvc SpeechService) *Handler {
	return &Handler{
		assistant: assistant,
		auth:      authService,
		workers:   workers,
		speech:    speechSvc,
	}
}

// check token userID is match with param userID
func (h *Handler) requirePathUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.UserIDFromContext(c)
		if !ok || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		paramID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || paramID <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		if paramID != userID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user mismatch"})
			return
		}
		c.Next()
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	api.POST("/users/guest", h.guestSession)

	authMW := h.auth.Middleware()
	userRoutes := api.Group("/users/:id")
	userRoutes.Use(authMW, h.requirePathUser(), h.auth.CSRFMiddleware())
	userRoutes.POST("/chat", h.chat)
	userRoutes.POST("/chat/new", h.newChat)
	userRoutes.GET("/history", h.getHistory)
	userRoutes.PUT("/persona", h.setPersona)
	userRoutes.POST("/speech/synthesize", h.synthesizeSpeech)
	userRoutes.POST("/speech/transcribe", h.transcribeSpeech)
	userRoutes.POST("/logout", h.logoutUser)
	userRoutes.DELETE("", h.deleteUser)

	rpc := api.Group("/rpc")
	rpc.Use(authMW, h.auth.CSRFMiddleware())
	rpc.POST("/saveChatHistory", h.rpcSaveChatHistory)
	rpc.POST("/getChatHistory", h.rpcGetChatHistory)
	rpc.POST("/listUsers", h.auth.RequireRole(models.RoleAdmin), h.rpcListUsers)

	admin := router.Group("/admin")
	admin.Use(authMW, h.auth.RequireRole(models.RoleAdmin))
	admin.GET("/users", h.adminListUsers)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Persona  string `json:"persona"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.assistant.RegisterUser(c.Request.Context(), req.Username, req.Email, req.Password, req.Persona)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"role":       user.Role,
		"persona":    user.Persona,
		"created_at": user.CreatedAt,
	})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.assistant.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	h.issueSession(c, user)
}

// guestSession creates an ephemeral identity so visitors can chat without
// registering.
func (h *Handler) guestSession(c *gin.Context) {
	user, err := h.assistant.CreateGuest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create guest failed"})
		return
	}
	h.issueSession(c, user)
}

func (h *Handler) issueSession(c *gin.Context, user *models.User) {
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"role":       user.Role,
		"persona":    user.Persona,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
	})
}

type chatRequest struct {
	Content string `json:"content"`
}

func (h *Handler) chat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		// the orchestration flow never sees an empty turn
		c.JSON(http.StatusBadRequest, gin.H{"error": "content cannot be empty"})
		return
	}
	user, err := h.assistant.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
		return
	}

	message := &models.ChatMessage{
		ID:      models.NewMessageID(),
		Role:    models.RoleUser,
		Content: content,
	}

	streamCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{"message": message}); err != nil {
		return
	}

	aiMessage, err := h.workers.Chat(worker.TurnRequest{
		Context: streamCtx,
		UserID:  userID,
		Persona: user.Persona,
		Message: message,
		ChunkFn: func(chunk string) error {
			return sendEvent("stream", gin.H{"content": chunk})
		},
	})
	if err != nil {
		msg := genericFailureMessage
		if errors.Is(err, worker.ErrWorkerBusy) {
			msg = "server is busy, please retry"
		}
		_ = sendEvent("error", gin.H{"message": msg})
		return
	}
	_ = sendEvent("done", gin.H{
		"user_message": message,
		"ai_message":   aiMessage,
	})
}

// newChat clears the stored history: an explicit empty array is persisted.
func (h *Handler) newChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.assistant.ClearHistory(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "clear history failed"})
		return
	}
	h.workers.Purge(userID)
	c.Status(http.StatusNoContent)
}

// getHistory distinguishes "no history yet" (200 with an empty array) from a
// failed fetch (500), so the client can offer a retry.
func (h *Handler) getHistory(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	messages, err := h.assistant.GetHistory(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history fetch failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type personaRequest struct {
	Persona string `json:"persona"`
}

func (h *Handler) setPersona(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req personaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	persona, err := h.assistant.SetPersona(c.Request.Context(), userID, req.Persona)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"persona": persona})
}

func (h *Handler) logoutUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	h.workers.ResetUser(userID)
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), authToken)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeUserTokens(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.workers.ResetUser(id)
	if err := h.assistant.DeleteUser(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
