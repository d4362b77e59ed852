package httpapi

import (
	"net/http"
	"time"

	"callbridge/internal/auth"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Logout revokes the presented access token until its own expiry.
func (h Handlers) Logout(c *gin.Context) {
	tok, ok := auth.Token(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing token"})
		return
	}
	var exp time.Time
	if tok.ExpiresAt > 0 {
		exp = time.Unix(tok.ExpiresAt, 0)
	}
	if err := h.Revocations.Revoke(c.Request.Context(), tok.Raw, exp); err != nil {
		logger.FromGin(c).Error("revoke failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
