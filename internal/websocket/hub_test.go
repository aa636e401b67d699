package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func startServer(t *testing.T, hub *Hub, attemptID uuid.UUID) (*websocket.Conn, chan *Client) {
	t.Helper()
	registered := make(chan *Client, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(conn, attemptID, zerolog.Nop())
		hub.Register(c)
		registered <- c
		c.WritePump()
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, registered
}

func TestHubBroadcastReachesAttemptClients(t *testing.T) {
	hub := NewHub()
	attemptID := uuid.New()
	conn, registered := startServer(t, hub, attemptID)

	var client *Client
	select {
	case client = <-registered:
	case <-time.After(2 * time.Second):
		t.Fatalf("client never registered")
	}

	hub.Broadcast(uuid.New(), EventTick, "other attempt")
	hub.Broadcast(attemptID, EventTick, map[string]int{"remaining": 42})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Event Event          `json:"event"`
		Data  map[string]int `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Event != EventTick || got.Data["remaining"] != 42 {
		t.Fatalf("event: got %+v", got)
	}

	hub.Unregister(client)
	if hub.Count(attemptID) != 0 {
		t.Fatalf("count after unregister: want=0 got=%d", hub.Count(attemptID))
	}
	if client.Send(EventPong, nil) {
		t.Fatalf("send on closed client should fail")
	}
}

func TestCloseAllStopsClients(t *testing.T) {
	hub := NewHub()
	attemptID := uuid.New()
	conn, registered := startServer(t, hub, attemptID)
	client := <-registered

	hub.CloseAll()

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatalf("client not closed")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("want normal close, got %v", err)
	}
}
