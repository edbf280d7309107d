package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	sessionIDContextKey = "auth_session_id"
	tokenContextKey     = "auth_session_token"
)

// Middleware resolves the session token (bearer header or cookie) and stores
// the bound session id in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrTokenRequired.Error()})
			return
		}
		sessionID, err := s.ValidateToken(c.Request.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrTokenExpired) {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Set(sessionIDContextKey, sessionID)
		c.Set(tokenContextKey, token)
		c.Next()
	}
}

// SessionIDFromContext retrieves the authenticated session id from the gin context.
func SessionIDFromContext(c *gin.Context) (int64, bool) {
	val, ok := c.Get(sessionIDContextKey)
	if !ok {
		return 0, false
	}
	id, ok := val.(int64)
	return id, ok
}

// TokenFromContext retrieves the session token captured by the middleware.
func TokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(tokenContextKey)
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
	// Browsers cannot set headers on websocket upgrades.
	if websocketUpgrade(c.Request) {
		return c.Query("token")
	}
	return ""
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
