package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/credentials"
	"callbridge/internal/directory"
	"callbridge/internal/reporting"

	"github.com/gin-gonic/gin"
)

type initiateResponse struct {
	CallID               string                       `json:"callId"`
	ChannelName          string                       `json:"channelName"`
	Status               calls.Status                 `json:"status"`
	AppID                string                       `json:"appId"`
	Caller               credentials.PartyCredentials `json:"caller"`
	Callee               directory.Summary            `json:"callee"`
	PushNotificationSent bool                         `json:"pushNotificationSent"`
}

// Initiate starts a call from the authenticated caller to a callee addressed
// by id or email.
func (h Handlers) Initiate(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var target directory.Target
	if err := c.ShouldBindJSON(&target); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if strings.TrimSpace(target.ID) == "" && strings.TrimSpace(target.Email) == "" {
		badRequest(c, "calleeId or email is required")
		return
	}

	out, err := h.Calls.Initiate(c.Request.Context(), a.ID, target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, initiateResponse{
		CallID:               out.Session.CallID,
		ChannelName:          out.Session.ChannelName,
		Status:               out.Session.Status,
		AppID:                out.AppID,
		Caller:               out.Caller,
		Callee:               out.Callee,
		PushNotificationSent: out.PushNotificationSent,
	})
}

func (h Handlers) Accept(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	out, err := h.Calls.Accept(c.Request.Context(), a, c.Param("callId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"callId":      out.Session.CallID,
		"status":      out.Session.Status,
		"startTime":   out.Session.StartTime,
		"credentials": out.Credentials,
	})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) Reject(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid json")
		return
	}
	out, err := h.Calls.Reject(c.Request.Context(), a, c.Param("callId"), strings.TrimSpace(req.Reason))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"callId":       out.CallID,
		"status":       out.Status,
		"rejectReason": out.Metadata["rejectReason"],
	})
}

func (h Handlers) End(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	out, err := h.Calls.End(c.Request.Context(), a, c.Param("callId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"callId":   out.CallID,
		"status":   out.Status,
		"duration": out.Duration,
	})
}

// Miss reports an unmissable state as a bad request rather than a conflict.
func (h Handlers) Miss(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	out, err := h.Calls.Miss(c.Request.Context(), a, c.Param("callId"))
	if errors.Is(err, calls.ErrInvalidTransition) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": out.CallID, "status": out.Status})
}

func (h Handlers) GetCall(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	out, err := h.Calls.Get(c.Request.Context(), a, c.Param("callId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CallTrail lists the transitions applied to a call. Only its parties may read it.
func (h Handlers) CallTrail(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sess, err := h.Calls.Get(ctx, a, c.Param("callId"))
	if err != nil {
		respondError(c, err)
		return
	}
	trail, err := h.Audit.Trail(ctx, sess.CallID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": sess.CallID, "data": trail})
}

func (h Handlers) History(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		badRequest(c, "limit must be an integer")
		return
	}
	skip, err := intQuery(c, "skip")
	if err != nil {
		badRequest(c, "skip must be an integer")
		return
	}
	var statuses []calls.Status
	for _, v := range strings.Split(c.Query("status"), ",") {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		st, err := calls.ParseStatus(v)
		if err != nil {
			respondError(c, err)
			return
		}
		statuses = append(statuses, st)
	}

	page, err := h.Calls.History(c.Request.Context(), a, statuses, limit, skip)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": page.Items,
		"pagination": gin.H{
			"total": page.Total,
			"limit": page.Limit,
			"skip":  page.Skip,
		},
	})
}

// Pending is the callee's polling fallback for missed wake-up pushes.
func (h Handlers) Pending(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	items, err := h.Calls.Pending(c.Request.Context(), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (h Handlers) Summary(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	from, err := timeQuery(c, "from")
	if err != nil {
		badRequest(c, "from must be RFC3339")
		return
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		badRequest(c, "to must be RFC3339")
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Role:    string(a.Role),
		PartyID: a.ID,
		Range:   reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func timeQuery(c *gin.Context, key string) (time.Time, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
