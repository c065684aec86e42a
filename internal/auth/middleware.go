package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	deskIDContextKey    = "auth_desk_id"
	authTokenContextKey = "auth_token"
)

// Middleware validates desk tokens and stores the desk id in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.extractToken(c)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "desk session required"})
			return
		}
		deskID, err := s.ValidateToken(c.Request.Context(), authToken)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
			}
			return
		}
		c.Set(deskIDContextKey, deskID)
		c.Set(authTokenContextKey, authToken)
		c.Next()
	}
}

// DeskIDFromContext retrieves the authenticated desk id from the gin context.
func DeskIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(deskIDContextKey)
	if !ok {
		return "", false
	}
	deskID, ok := val.(string)
	return deskID, ok && deskID != ""
}

// AuthTokenFromContext retrieves the desk token captured by the middleware.
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
