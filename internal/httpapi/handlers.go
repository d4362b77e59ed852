package httpapi

import (
	"net/http"

	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/credentials"
	"callbridge/internal/directory"
	"callbridge/internal/events"
	"callbridge/internal/observability"
	"callbridge/internal/reporting"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls       *calls.Service
	Directory   *directory.Service
	Issuer      *credentials.Issuer
	Revocations auth.Revocations
	Reports     *reporting.Service
	Audit       *audit.Service

	// Events and Upgrader back the live call stream; both are optional.
	Events   events.Bus
	Upgrader *websocket.Upgrader
	Metrics  *observability.Metrics
}

// actor reads the authenticated principal placed on the context by
// auth.RequireAccessToken.
func actor(c *gin.Context) (calls.Actor, bool) {
	ctx := c.Request.Context()
	userID, err := auth.UserID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "identity required"})
		return calls.Actor{}, false
	}
	role, err := auth.Role(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "role required"})
		return calls.Actor{}, false
	}
	return calls.Actor{ID: userID, Role: calls.Role(role)}, true
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": kindValidation, "message": message})
}
