package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"callbridge/internal/calls"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// NewUpgrader accepts same-host browser origins, the listed origins, and
// clients that send no Origin at all.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			if slices.ContainsFunc(allowedOrigins, func(o string) bool { return strings.EqualFold(o, origin) }) {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
}

// TokenFromQuery lets browser websocket clients, which cannot set headers,
// present the bearer token as ?access_token=.
func TokenFromQuery() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			if tok := c.Query("access_token"); tok != "" {
				c.Request.Header.Set("Authorization", "Bearer "+tok)
			}
		}
		c.Next()
	}
}

// CallEvents streams a party's view of one call: a snapshot first, then every
// applied transition. The stream closes after a terminal status.
func (h Handlers) CallEvents(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if h.Events == nil || h.Upgrader == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "unavailable", "message": "live events not configured"})
		return
	}
	callID := c.Param("callId")

	// Subscribe before reading the snapshot so no transition in between is lost.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()
	updates, unsubscribe, err := h.Events.Subscribe(ctx, calls.TopicFor(callID))
	if err != nil {
		respondError(c, err)
		return
	}
	defer unsubscribe()

	snapshot, err := h.Calls.Get(c.Request.Context(), a, callID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the failure response.
		return
	}
	defer conn.Close()

	log := logger.FromGin(c).With("call_id", callID)
	if h.Metrics != nil {
		h.Metrics.WSSubscribers.Inc()
		defer h.Metrics.WSSubscribers.Dec()
	}

	go readPump(conn, cancel)

	if err := writeJSON(conn, calls.Update{Event: "snapshot", Session: snapshot}); err != nil {
		return
	}
	if snapshot.Status.Terminal() {
		closeNormal(conn)
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case payload, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Info("call events write failed", "err", err)
				return
			}
			var u calls.Update
			if err := json.Unmarshal(payload, &u); err == nil && u.Session.Status.Terminal() {
				closeNormal(conn)
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed, and
// cancels the stream when the peer goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
