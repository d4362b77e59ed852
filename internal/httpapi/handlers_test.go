package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/credentials"
	"callbridge/internal/directory"
	"callbridge/internal/events"
	"callbridge/internal/observability"
	"callbridge/internal/push"
	"callbridge/internal/reporting"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
)

type testEnv struct {
	t       *testing.T
	router  *gin.Engine
	auth    *auth.Manager
	revoked *auth.MemoryRevocations
	audit   *audit.MemoryRepo
	pushed  chan push.Message
}

func newPushServer(t *testing.T, pushed chan<- push.Message) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer zr.Close()
			body = zr
		}
		var msgs []push.Message
		if err := json.NewDecoder(body).Decode(&msgs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tickets := make([]push.Ticket, 0, len(msgs))
		for _, m := range msgs {
			select {
			case pushed <- m:
			default:
			}
			tickets = append(tickets, push.Ticket{Status: "ok", ID: "ticket"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": tickets})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	dir := directory.NewService(directory.NewMemoryRepo())
	for _, a := range []directory.Account{
		{ID: "c1", Pool: directory.PoolCaller, Email: "carol@example.com", Name: "Carol", Active: true},
		{ID: "m1", Pool: directory.PoolCallee, Email: "mia@example.com", Name: "Mia", PushToken: "ExponentPushToken[m1]", Active: true, Online: true},
		{ID: "m2", Pool: directory.PoolCallee, Email: "max@example.com", Active: true},
	} {
		if err := dir.Upsert(ctx, a); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	issuer, err := credentials.NewIssuer(config.MediaConfig{AppID: "app-1", AppCertificate: "cert"})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	pushed := make(chan push.Message, 16)
	metrics := observability.NewMetrics()
	dispatcher := push.NewClient(config.PushConfig{Endpoint: newPushServer(t, pushed).URL, Timeout: time.Second}, metrics)

	callsRepo := calls.NewMemoryRepo()
	bus := events.NewMemoryBus()
	t.Cleanup(bus.Close)
	auditRepo := audit.NewMemoryRepo()
	auditService := audit.NewService(auditRepo)
	svc := calls.NewService(callsRepo, dir, issuer, dispatcher).WithHooks(calls.Hooks{
		Events:   bus,
		Audit:    auditService,
		Observer: metrics,
	})

	manager, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret"})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	revoked := auth.NewMemoryRevocations()

	h := Handlers{
		Calls:       svc,
		Directory:   dir,
		Issuer:      issuer,
		Revocations: revoked,
		Reports:     reporting.NewService(reporting.NewCallsRepo(callsRepo)),
		Audit:       auditService,
		Events:      bus,
		Upgrader:    NewUpgrader(nil),
		Metrics:     metrics,
	}
	r := gin.New()
	h.Register(r.Group("/v1"), auth.RequireAccessToken(manager, revoked))

	return &testEnv{t: t, router: r, auth: manager, revoked: revoked, audit: auditRepo, pushed: pushed}
}

func (e *testEnv) token(userID, role string) string {
	e.t.Helper()
	tok, _, err := e.auth.IssueAccess(time.Now(), userID, role)
	if err != nil {
		e.t.Fatalf("issue: %v", err)
	}
	return tok
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (e *testEnv) initiate(token, calleeID string) string {
	e.t.Helper()
	w := e.do(http.MethodPost, "/v1/calls/initiate", token, map[string]string{"calleeId": calleeID})
	if w.Code != http.StatusCreated {
		e.t.Fatalf("initiate: expected 201, got %d %s", w.Code, w.Body.String())
	}
	return decode(e.t, w)["callId"].(string)
}

func TestCallFlow_InitiateAcceptEnd(t *testing.T) {
	e := newTestEnv(t)
	caller := e.token("c1", "caller")
	callee := e.token("m1", "callee")

	w := e.do(http.MethodPost, "/v1/calls/initiate", caller, map[string]string{"email": "MIA@example.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	callID := out["callId"].(string)
	if out["channelName"] != "call_"+callID || out["status"] != "ringing" || out["pushNotificationSent"] != true {
		t.Fatalf("unexpected initiate response: %v", out)
	}
	creds := out["caller"].(map[string]any)
	if creds["rtcToken"] == "" || creds["rtmToken"] == "" || uint32(creds["uid"].(float64)) != credentials.UID("c1") {
		t.Fatalf("unexpected caller credentials: %v", creds)
	}

	select {
	case m := <-e.pushed:
		if m.Kind() != push.KindIncomingCall || m.To != "ExponentPushToken[m1]" || m.Data["callId"] != callID {
			t.Fatalf("unexpected push: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatalf("no incoming call push")
	}

	w = e.do(http.MethodPost, "/v1/calls/"+callID+"/accept", callee, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d %s", w.Code, w.Body.String())
	}
	acc := decode(t, w)
	if acc["status"] != "accepted" || acc["startTime"] == nil {
		t.Fatalf("unexpected accept response: %v", acc)
	}
	if got := acc["credentials"].(map[string]any)["uid"].(float64); uint32(got) != credentials.UID("m1") {
		t.Fatalf("expected callee uid, got %v", got)
	}

	w = e.do(http.MethodPost, "/v1/calls/"+callID+"/end", caller, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d %s", w.Code, w.Body.String())
	}
	if ended := decode(t, w); ended["status"] != "ended" || ended["duration"] == nil {
		t.Fatalf("unexpected end response: %v", ended)
	}

	trail, _ := e.audit.ListByCall(context.Background(), callID)
	if len(trail) != 4 || trail[3].ToStatus != "ended" || trail[3].IPAddress != "192.0.2.1" {
		t.Fatalf("unexpected audit trail: %+v", trail)
	}

	// Reads never carry stored credentials.
	w = e.do(http.MethodGet, "/v1/calls/"+callID, callee, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "Token") {
		t.Fatalf("credentials leaked: %s", w.Body.String())
	}
}

func TestInitiate_ErrorMapping(t *testing.T) {
	e := newTestEnv(t)
	caller := e.token("c1", "caller")

	cases := []struct {
		name string
		body map[string]string
		code int
		kind string
	}{
		{"no device", map[string]string{"calleeId": "m2"}, http.StatusBadRequest, kindValidation},
		{"unknown", map[string]string{"email": "nobody@example.com"}, http.StatusNotFound, kindNotFound},
		{"no target", map[string]string{}, http.StatusBadRequest, kindValidation},
	}
	for _, tc := range cases {
		w := e.do(http.MethodPost, "/v1/calls/initiate", caller, tc.body)
		if w.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d %s", tc.name, tc.code, w.Code, w.Body.String())
		}
		if got := decode(t, w)["error"]; got != tc.kind {
			t.Fatalf("%s: expected kind %q, got %v", tc.name, tc.kind, got)
		}
	}
}

func TestRoleAndPartyChecks(t *testing.T) {
	e := newTestEnv(t)
	caller := e.token("c1", "caller")
	callee := e.token("m1", "callee")
	stranger := e.token("m2", "callee")

	if w := e.do(http.MethodPost, "/v1/calls/initiate", "", map[string]string{"calleeId": "m1"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/v1/calls/initiate", callee, map[string]string{"calleeId": "m1"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for callee initiating, got %d", w.Code)
	}

	callID := e.initiate(caller, "m1")
	w := e.do(http.MethodPost, "/v1/calls/"+callID+"/accept", stranger, nil)
	if w.Code != http.StatusForbidden || decode(t, w)["error"] != kindForbidden {
		t.Fatalf("expected 403 for non-party accept, got %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodGet, "/v1/calls/"+callID, stranger, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-party read, got %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/v1/calls/missing", caller, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestInvalidTransitions(t *testing.T) {
	e := newTestEnv(t)
	caller := e.token("c1", "caller")
	callee := e.token("m1", "callee")
	callID := e.initiate(caller, "m1")

	w := e.do(http.MethodPost, "/v1/calls/"+callID+"/reject", callee, map[string]string{"reason": "busy"})
	if w.Code != http.StatusOK || decode(t, w)["rejectReason"] != "busy" {
		t.Fatalf("reject: got %d %s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodPost, "/v1/calls/"+callID+"/reject", callee, nil)
	if w.Code != http.StatusConflict || decode(t, w)["error"] != kindInvalidTransition {
		t.Fatalf("expected 409 on second reject, got %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodPost, "/v1/calls/"+callID+"/miss", caller, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on late miss, got %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/v1/calls/"+callID+"/end", caller, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 ending a rejected call, got %d", w.Code)
	}
}

func TestRejectWithoutBodyUsesDefaultReason(t *testing.T) {
	e := newTestEnv(t)
	callID := e.initiate(e.token("c1", "caller"), "m1")

	w := e.do(http.MethodPost, "/v1/calls/"+callID+"/reject", e.token("m1", "callee"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["rejectReason"]; got != calls.DefaultRejectReason {
		t.Fatalf("expected default reason, got %v", got)
	}
}

func TestCallTrail(t *testing.T) {
	e := newTestEnv(t)
	caller := e.token("c1", "caller")
	callee := e.token("m1", "callee")
	callID := e.initiate(caller, "m1")

	if w := e.do(http.MethodPost, "/v1/calls/"+callID+"/reject", callee, map[string]string{"reason": "busy"}); w.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d %s", w.Code, w.Body.String())
	}

	w := e.do(http.MethodGet, "/v1/calls/"+callID+"/audit", caller, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	data, _ := body["data"].([]any)
	if body["callId"] != callID || len(data) != 3 {
		t.Fatalf("expected three transitions, got %v", body)
	}
	last := data[2].(map[string]any)
	if last["from_status"] != "ringing" || last["to_status"] != "rejected" || last["actor_user_id"] != "m1" || last["ip_address"] != "192.0.2.1" {
		t.Fatalf("unexpected last event: %v", last)
	}

	if w := e.do(http.MethodGet, "/v1/calls/"+callID+"/audit", e.token("m2", "callee"), nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-party, got %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/v1/calls/missing/audit", caller, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHistoryPendingAndSummary(t *testing.T) {
	e := newTestEnv(t)
	caller := e.token("c1", "caller")
	callee := e.token("m1", "callee")
	for i := 0; i < 3; i++ {
		e.initiate(caller, "m1")
	}

	w := e.do(http.MethodGet, "/v1/calls/history?limit=2&skip=0", caller, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: got %d %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if len(out["data"].([]any)) != 2 || out["pagination"].(map[string]any)["total"].(float64) != 3 {
		t.Fatalf("unexpected history: %v", out)
	}
	if w := e.do(http.MethodGet, "/v1/calls/history?limit=x", caller, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/v1/calls/history?status=bogus", caller, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", w.Code)
	}

	w = e.do(http.MethodGet, "/v1/calls/pending", callee, nil)
	if w.Code != http.StatusOK || len(decode(t, w)["data"].([]any)) != 3 {
		t.Fatalf("pending: got %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodGet, "/v1/calls/pending", caller, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for caller pending, got %d", w.Code)
	}

	w = e.do(http.MethodGet, "/v1/calls/summary", caller, nil)
	if w.Code != http.StatusOK || decode(t, w)["totalCalls"].(float64) != 3 {
		t.Fatalf("summary: got %d %s", w.Code, w.Body.String())
	}
}

func TestDirectoryAndDevice(t *testing.T) {
	e := newTestEnv(t)
	caller := e.token("c1", "caller")
	m2 := e.token("m2", "callee")

	w := e.do(http.MethodGet, "/v1/caller/callees", caller, nil)
	if w.Code != http.StatusOK || len(decode(t, w)["data"].([]any)) != 1 {
		t.Fatalf("list: got %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodGet, "/v1/caller/callees/search?email=max@example.com", caller, nil); w.Code != http.StatusOK || decode(t, w)["hasDevice"] != false {
		t.Fatalf("search: got %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodGet, "/v1/caller/callees/search", caller, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without target, got %d", w.Code)
	}

	w = e.do(http.MethodPut, "/v1/callee/device", m2, map[string]string{"pushToken": "ExponentPushToken[m2]", "platform": "Android"})
	if w.Code != http.StatusOK || decode(t, w)["platform"] != "android" {
		t.Fatalf("register: got %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodPut, "/v1/callee/device", m2, map[string]string{"pushToken": "x", "platform": "symbian"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad platform, got %d", w.Code)
	}
	e.initiate(caller, "m2")

	if w := e.do(http.MethodDelete, "/v1/callee/device", m2, nil); w.Code != http.StatusNoContent {
		t.Fatalf("unregister: got %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/v1/calls/initiate", caller, map[string]string{"calleeId": "m2"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 after unregister, got %d", w.Code)
	}

	w = e.do(http.MethodPut, "/v1/callee/status", m2, map[string]bool{"isOnline": true})
	if w.Code != http.StatusOK || decode(t, w)["isOnline"] != true {
		t.Fatalf("status: got %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodPut, "/v1/callee/device", caller, map[string]string{"pushToken": "x"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for caller device registration, got %d", w.Code)
	}
}

func TestTokenEndpoints(t *testing.T) {
	e := newTestEnv(t)
	caller := e.token("c1", "caller")
	callID := e.initiate(caller, "m1")
	channel := calls.ChannelFor(callID)

	w := e.do(http.MethodPost, "/v1/tokens/rtc", caller, map[string]string{"channelName": channel, "role": "subscriber"})
	if w.Code != http.StatusOK {
		t.Fatalf("rtc: got %d %s", w.Code, w.Body.String())
	}
	if out := decode(t, w); out["role"] != "subscriber" || uint32(out["uid"].(float64)) != credentials.UID("c1") {
		t.Fatalf("unexpected rtc response: %v", out)
	}
	if w := e.do(http.MethodPost, "/v1/tokens/rtc", caller, map[string]string{"channelName": channel, "role": "admin"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad role, got %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/v1/tokens/rtc", e.token("m2", "callee"), map[string]string{"channelName": channel}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-party channel, got %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/v1/tokens/rtc", caller, map[string]string{"channelName": "lobby"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-call channel, got %d", w.Code)
	}

	if w := e.do(http.MethodPost, "/v1/tokens/rtm", caller, nil); w.Code != http.StatusOK || decode(t, w)["userId"] != "c1" {
		t.Fatalf("rtm: got %d %s", w.Code, w.Body.String())
	}
	w = e.do(http.MethodPost, "/v1/tokens/chat", e.token("m1", "callee"), map[string]string{"channelName": channel})
	if w.Code != http.StatusOK || decode(t, w)["token"] == "" {
		t.Fatalf("chat: got %d %s", w.Code, w.Body.String())
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	e := newTestEnv(t)
	caller := e.token("c1", "caller")

	if w := e.do(http.MethodPost, "/v1/auth/logout", caller, nil); w.Code != http.StatusOK {
		t.Fatalf("logout: got %d %s", w.Code, w.Body.String())
	}
	if e.revoked.Len() != 1 {
		t.Fatalf("expected one revoked token")
	}
	w := e.do(http.MethodGet, "/v1/calls/history", caller, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", w.Code)
	}
	// A fresh token for the same account still works.
	if w := e.do(http.MethodGet, "/v1/calls/history", e.token("c1", "caller"), nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for new token, got %d", w.Code)
	}
}

func TestCallEventsStream(t *testing.T) {
	e := newTestEnv(t)
	caller := e.token("c1", "caller")
	callee := e.token("m1", "callee")
	callID := e.initiate(caller, "m1")

	srv := httptest.NewServer(e.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/calls/" + callID + "/events?access_token=" + caller

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap calls.Update
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Event != "snapshot" || snap.Session.Status != calls.StatusRinging {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if w := e.do(http.MethodPost, "/v1/calls/"+callID+"/accept", callee, nil); w.Code != http.StatusOK {
		t.Fatalf("accept: got %d", w.Code)
	}
	var upd calls.Update
	if err := conn.ReadJSON(&upd); err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.Event != calls.EventAccept || upd.Session.Status != calls.StatusAccepted || upd.Session.CalleeToken != "" {
		t.Fatalf("unexpected update: %+v", upd)
	}

	if w := e.do(http.MethodPost, "/v1/calls/"+callID+"/end", callee, nil); w.Code != http.StatusOK {
		t.Fatalf("end: got %d", w.Code)
	}
	if err := conn.ReadJSON(&upd); err != nil || upd.Session.Status != calls.StatusEnded {
		t.Fatalf("expected ended update, got %+v %v", upd, err)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close after terminal status, got %v", err)
	}
}

func TestCallEventsRequiresParty(t *testing.T) {
	e := newTestEnv(t)
	callID := e.initiate(e.token("c1", "caller"), "m1")

	w := e.do(http.MethodGet, "/v1/calls/"+callID+"/events?access_token="+e.token("m2", "callee"), "", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
