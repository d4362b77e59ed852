package httpapi

import (
	"net/http"
	"strings"

	"callbridge/internal/directory"

	"github.com/gin-gonic/gin"
)

// ListCallees returns callable accounts; ?online=true narrows to present ones.
func (h Handlers) ListCallees(c *gin.Context) {
	onlineOnly := strings.EqualFold(c.Query("online"), "true")
	out, err := h.Directory.ListCallable(c.Request.Context(), onlineOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h Handlers) SearchCallee(c *gin.Context) {
	var target directory.Target
	if err := c.ShouldBindQuery(&target); err != nil {
		badRequest(c, "invalid query")
		return
	}
	if target.ID == "" && target.Email == "" {
		badRequest(c, "calleeId or email is required")
		return
	}
	a, err := h.Directory.FindCallee(c.Request.Context(), target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.Summary())
}

type deviceRequest struct {
	PushToken string `json:"pushToken"`
	Platform  string `json:"platform"`
}

// RegisterDevice records the push endpoint the dispatcher wakes the
// authenticated callee through.
func (h Handlers) RegisterDevice(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	acct, err := h.Directory.RegisterDevice(c.Request.Context(), a.ID, req.PushToken, req.Platform)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": acct.ID, "platform": acct.Platform, "hasDevice": acct.HasDevice()})
}

func (h Handlers) UnregisterDevice(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if err := h.Directory.UnregisterDevice(c.Request.Context(), a.ID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type presenceRequest struct {
	IsOnline *bool `json:"isOnline"`
}

func (h Handlers) SetPresence(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsOnline == nil {
		badRequest(c, "isOnline is required")
		return
	}
	acct, err := h.Directory.SetOnline(c.Request.Context(), a.ID, *req.IsOnline)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isOnline": acct.Online, "lastSeen": acct.LastSeen})
}
