package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"beepgenesis/internal/models"
)

const (
	userIDContextKey    = "auth_user_id"
	authTokenContextKey = "auth_token"
)

// Middleware validates bearer tokens and stores the authenticated user in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.extractToken(c)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), authToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(userIDContextKey, userID)
		c.Set(authTokenContextKey, authToken)
		c.Next()
	}
}

// CSRFMiddleware applies double-submit cookie protection to mutating
// requests. Callers presenting an explicit bearer header are exempt: that
// header cannot be attached by a cross-site form. Cookie-authenticated
// requests must echo the csrf cookie value in the matching header.
func (s *Service) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if strings.HasPrefix(strings.ToLower(c.GetHeader(s.headerName)), "bearer ") {
			c.Next()
			return
		}
		headerToken := c.GetHeader(s.csrfHeaderName)
		cookieToken, err := c.Cookie(s.csrfCookieName)
		if err != nil || headerToken == "" || headerToken != cookieToken {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
			return
		}
		c.Next()
	}
}

// RequireRole gates a route on the authenticated user's role claim. It never
// compares identity values; the role column is the capability.
func (s *Service) RequireRole(role models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserIDFromContext(c)
		if !ok || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		got, err := s.UserRole(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authorization check failed"})
			return
		}
		if got != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient privilege"})
			return
		}
		c.Next()
	}
}

// UserRole returns the role claim stored for the user.
func (s *Service) UserRole(ctx context.Context, userID int64) (models.UserRole, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errors.New("user not found")
		}
		return "", fmt.Errorf("lookup role: %w", err)
	}
	return models.UserRole(role), nil
}

// UserIDFromContext retrieves the authenticated user id from the gin context.
func UserIDFromContext(c *gin.Context) (int64, bool) {
	val, ok := c.Get(userIDContextKey)
	if !ok {
		return 0, false
	}
	userID, ok := val.(int64)
	return userID, ok
}

// AuthTokenFromContext retrieves the bearer token captured by the middleware.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(authTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}
