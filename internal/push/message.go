package push

import (
	"strconv"
	"strings"
	"time"
)

// Kind is carried in every message's data payload so the device can route it.
type Kind string

const (
	KindIncomingCall Kind = "INCOMING_CALL"
	KindCallEnded    Kind = "CALL_ENDED"
	KindMissedCall   Kind = "MISSED_CALL"
)

// Android notification channels registered by the mobile app.
const (
	channelVideoCalls  = "video_calls"
	channelMissedCalls = "missed_calls"
)

// Message is one entry of the push API request body.
type Message struct {
	To               string            `json:"to"`
	Title            string            `json:"title,omitempty"`
	Body             string            `json:"body,omitempty"`
	Data             map[string]string `json:"data"`
	Priority         string            `json:"priority,omitempty"`
	Sound            string            `json:"sound,omitempty"`
	ChannelID        string            `json:"channelId,omitempty"`
	ContentAvailable bool              `json:"_contentAvailable,omitempty"`
}

func (m Message) Kind() Kind { return Kind(m.Data["type"]) }

// Ticket is the per-message outcome returned by the push API.
type Ticket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (t Ticket) OK() bool { return t.Status == "ok" }

// ValidEndpointToken reports whether token has the device endpoint syntax the
// push API accepts.
func ValidEndpointToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}

// Caller is who the callee sees on the notification.
type Caller struct {
	ID    string
	Name  string
	Email string
}

// Display renders "Name (email)" when both are known and differ.
func (c Caller) Display() string {
	switch {
	case c.Email != "" && c.Name != "" && c.Name != c.Email:
		return c.Name + " (" + c.Email + ")"
	case c.Email != "":
		return c.Email
	case c.Name != "":
		return c.Name
	default:
		return "Unknown"
	}
}

// IncomingCall carries what the callee needs to join without a round trip.
type IncomingCall struct {
	CallID      string
	ChannelName string
	Caller      Caller
	AppID       string
	MediaToken  string
}

func NewIncomingCall(to string, in IncomingCall, now time.Time) Message {
	name := in.Caller.Name
	if name == "" {
		name = "Unknown Caller"
	}
	return Message{
		To:        to,
		Sound:     "default",
		Title:     "Incoming Video Call",
		Body:      in.Caller.Display() + " is calling you...",
		Priority:  "high",
		ChannelID: channelVideoCalls,
		Data: map[string]string{
			"type":        string(KindIncomingCall),
			"callId":      in.CallID,
			"channelName": in.ChannelName,
			"callerId":    in.Caller.ID,
			"callerName":  name,
			"callerEmail": in.Caller.Email,
			"appId":       in.AppID,
			"token":       in.MediaToken,
			"timestamp":   timestamp(now),
		},
	}
}

// NewCallEnded is silent: no title, body or sound.
func NewCallEnded(to, callID, reason string, now time.Time) Message {
	if reason == "" {
		reason = "ended"
	}
	return Message{
		To:               to,
		Priority:         "high",
		ContentAvailable: true,
		Data: map[string]string{
			"type":      string(KindCallEnded),
			"callId":    callID,
			"reason":    reason,
			"timestamp": timestamp(now),
		},
	}
}

// NewMissedCall never embeds credentials; the call is already over.
func NewMissedCall(to, callID string, caller Caller, now time.Time) Message {
	name := caller.Name
	if name == "" {
		name = "Unknown"
	}
	return Message{
		To:        to,
		Sound:     "default",
		Title:     "Missed Call",
		Body:      "You missed a call from " + caller.Display(),
		ChannelID: channelMissedCalls,
		Data: map[string]string{
			"type":        string(KindMissedCall),
			"callId":      callID,
			"callerName":  name,
			"callerEmail": caller.Email,
			"timestamp":   timestamp(now),
		},
	}
}

func timestamp(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10)
}
