package httpapi

import (
	"callbridge/internal/audit"
	"callbridge/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the authenticated API on v1. authMW must run first on every
// route; role gates are applied per group.
func (h Handlers) Register(v1 *gin.RouterGroup, authMW gin.HandlerFunc) {
	callerOnly := rbac.RequireAnyRole(rbac.RoleCaller)
	calleeOnly := rbac.RequireAnyRole(rbac.RoleCallee)
	anyParty := rbac.RequireAnyRole(rbac.RoleCaller, rbac.RoleCallee)

	v1.Use(ClientIP())

	// Browser websocket clients present the token in the query string.
	v1.GET("/calls/:callId/events", TokenFromQuery(), authMW, anyParty, h.CallEvents)

	api := v1.Group("")
	api.Use(authMW)

	api.POST("/auth/logout", h.Logout)

	callsGroup := api.Group("/calls")
	{
		callsGroup.POST("/initiate", callerOnly, h.Initiate)
		callsGroup.GET("/pending", calleeOnly, h.Pending)
		callsGroup.GET("/history", anyParty, h.History)
		callsGroup.GET("/summary", anyParty, h.Summary)
		callsGroup.GET("/:callId", anyParty, h.GetCall)
		callsGroup.GET("/:callId/audit", anyParty, h.CallTrail)
		callsGroup.POST("/:callId/accept", calleeOnly, h.Accept)
		callsGroup.POST("/:callId/reject", calleeOnly, h.Reject)
		callsGroup.POST("/:callId/end", anyParty, h.End)
		callsGroup.POST("/:callId/miss", callerOnly, h.Miss)
	}

	caller := api.Group("/caller", callerOnly)
	{
		caller.GET("/callees", h.ListCallees)
		caller.GET("/callees/search", h.SearchCallee)
	}

	callee := api.Group("/callee", calleeOnly)
	{
		callee.PUT("/device", h.RegisterDevice)
		callee.DELETE("/device", h.UnregisterDevice)
		callee.PUT("/status", h.SetPresence)
	}

	tokens := api.Group("/tokens", anyParty)
	{
		tokens.POST("/rtc", h.MediaToken)
		tokens.POST("/rtm", h.MessagingToken)
		tokens.POST("/chat", h.ChatCredentials)
	}
}

// ClientIP attaches the resolved client address for the audit trail.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}
