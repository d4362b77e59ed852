package httpapi

import (
	"net/http"
	"strings"

	"callbridge/internal/calls"
	"callbridge/internal/credentials"

	"github.com/gin-gonic/gin"
)

type channelTokenRequest struct {
	ChannelName string `json:"channelName"`
	Role        string `json:"role"`
}

// partyChannel resolves a channel to its call and checks the principal is a
// party to it. Tokens are only minted for channels the principal may join.
func (h Handlers) partyChannel(c *gin.Context, a calls.Actor, channel string) bool {
	callID, ok := calls.CallIDFromChannel(strings.TrimSpace(channel))
	if !ok {
		badRequest(c, "channelName must name a call channel")
		return false
	}
	if _, err := h.Calls.Get(c.Request.Context(), a, callID); err != nil {
		respondError(c, err)
		return false
	}
	return true
}

// MediaToken issues a media token for the principal's hashed numeric id.
func (h Handlers) MediaToken(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req channelTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ChannelName == "" {
		badRequest(c, "channelName is required")
		return
	}
	role, err := credentials.ParseRole(req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	if !h.partyChannel(c, a, req.ChannelName) {
		return
	}

	uid := credentials.UID(a.ID)
	tok, err := h.Issuer.IssueMedia(req.ChannelName, uid, role, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"appId":       h.Issuer.AppID(),
		"channelName": req.ChannelName,
		"uid":         uid,
		"role":        role,
		"rtcToken":    tok,
	})
}

func (h Handlers) MessagingToken(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	tok, err := h.Issuer.IssueMessaging(a.ID, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appId": h.Issuer.AppID(), "userId": a.ID, "rtmToken": tok})
}

// ChatCredentials bundles a messaging token with the call channel used for
// in-call chat.
func (h Handlers) ChatCredentials(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req channelTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ChannelName == "" {
		badRequest(c, "channelName is required")
		return
	}
	if !h.partyChannel(c, a, req.ChannelName) {
		return
	}
	tok, err := h.Issuer.IssueMessaging(a.ID, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"appId":       h.Issuer.AppID(),
		"channelName": req.ChannelName,
		"userId":      a.ID,
		"token":       tok,
	})
}
