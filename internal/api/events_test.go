package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/frontdesk/internal/escalation"
	"github.com/kalambet/frontdesk/internal/storage"
)

func dialStream(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/help-requests/stream"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial stream: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub clients = %d, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) escalation.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}
	var ev escalation.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("decoding event %s: %v", b, err)
	}
	return ev
}

func TestHub_StreamsLifecycleEvents(t *testing.T) {
	env := newTestEnv(t, testToken)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn := dialStream(t, srv, testToken)
	waitForClients(t, env.hub, 1)

	rr := env.do(t, http.MethodPost, "/api/agent/incoming-call",
		`{"question":"Do you do perms?","callerPhone":"+15550004"}`)
	created := decode[IncomingCallResponse](t, rr)

	ev := readEvent(t, conn)
	if ev.Type != escalation.EventCreated || ev.Request == nil || ev.Request.ID != created.RequestID {
		t.Fatalf("first event = %+v", ev)
	}

	env.do(t, http.MethodPost, "/api/help-requests/"+created.RequestID+"/resolve", `{"answer":"Yes."}`)
	ev = readEvent(t, conn)
	if ev.Type != escalation.EventResolved || ev.Request.Status != storage.StatusResolved {
		t.Fatalf("second event = %+v", ev)
	}

	env.do(t, http.MethodPost, "/api/help-requests",
		`{"question":"Do you sell gift cards?","callerPhone":"+15550006"}`)
	readEvent(t, conn)

	env.clock.Advance(31 * time.Minute)
	env.do(t, http.MethodPost, "/api/help-requests/check-timeouts", "")
	ev = readEvent(t, conn)
	if ev.Type != escalation.EventTimeout || ev.Count != 1 {
		t.Fatalf("timeout event = %+v", ev)
	}
}

func TestHub_RequiresToken(t *testing.T) {
	env := newTestEnv(t, testToken)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/help-requests/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v, want 401", resp)
	}
}

func TestHub_AcceptsAccessTokenOnHandshake(t *testing.T) {
	env := newTestEnv(t, testToken)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/help-requests/stream"

	conn, _, err := websocket.DefaultDialer.Dial(base+"?access_token="+testToken, nil)
	if err != nil {
		t.Fatalf("dial with access_token: %v", err)
	}
	defer conn.Close()
	waitForClients(t, env.hub, 1)

	_, resp, err := websocket.DefaultDialer.Dial(base+"?access_token=wrong", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial with wrong access_token: err = %v, resp = %+v", err, resp)
	}
}

func TestAuth_AccessTokenIgnoredOutsideHandshake(t *testing.T) {
	env := newTestEnv(t, testToken)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, authReq(http.MethodGet, "/api/help-requests?access_token="+testToken, "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("plain GET with access_token = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 should carry a WWW-Authenticate challenge")
	}
}

func TestHub_RejectsCrossOriginBrowsers(t *testing.T) {
	env := newTestEnv(t, "")
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/help-requests/stream"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-origin dial: err = %v, resp = %+v, want 403", err, resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {srv.URL}})
	if err != nil {
		t.Fatalf("same-origin dial: %v", err)
	}
	conn.Close()
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	env := newTestEnv(t, "")
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn := dialStream(t, srv, "")
	waitForClients(t, env.hub, 1)

	conn.Close()
	waitForClients(t, env.hub, 0)
}

func TestHub_CloseDisconnectsSubscribers(t *testing.T) {
	env := newTestEnv(t, "")
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn := dialStream(t, srv, "")
	waitForClients(t, env.hub, 1)

	env.hub.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("read after hub close = %v, want normal closure", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/help-requests/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("dial after close: err = %v, resp = %+v", err, resp)
	}
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(quietLogger())
	hub.Publish(escalation.Event{Type: escalation.EventTimeout, Count: 3})
	if hub.Clients() != 0 {
		t.Fatalf("clients = %d", hub.Clients())
	}
}
