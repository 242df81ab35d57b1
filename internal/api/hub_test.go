package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/qjm/internal/observe"
	"github.com/MrWong99/qjm/internal/scenario"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(observe.DefaultMetrics())
	mux := http.NewServeMux()
	New(&fakeWargame{}, WithHub(hub)).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Clients(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsEvents(t *testing.T) {
	t.Parallel()
	hub, srv := startHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv)+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()
	waitClients(t, hub, 1)

	hub.Publish(scenario.Event{Kind: scenario.EventSnapshotTaken, Scenario: "fulda", Date: "1985-08-02"})

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Errorf("message type = %v, want text", typ)
	}
	var got scenario.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != scenario.EventSnapshotTaken || got.Scenario != "fulda" || got.Date != "1985-08-02" {
		t.Errorf("event = %+v", got)
	}
}

func TestHub_ClientLeaves(t *testing.T) {
	t.Parallel()
	hub, srv := startHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv)+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitClients(t, hub, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitClients(t, hub, 0)
}

func TestHub_DropsSlowClient(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	c, ok := hub.join()
	if !ok {
		t.Fatal("join refused")
	}

	for range clientBuffer + 1 {
		hub.Publish(scenario.Event{Kind: scenario.EventBattleCommitted})
	}
	if hub.Clients() != 0 {
		t.Errorf("clients = %d, want 0 after overflow", hub.Clients())
	}
	n := 0
	for range c.send {
		n++
	}
	if n != clientBuffer {
		t.Errorf("queued = %d, want %d", n, clientBuffer)
	}
}

func TestHub_ClosedRejectsJoin(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	hub.Close()
	if _, ok := hub.join(); ok {
		t.Error("join after Close succeeded")
	}
}
