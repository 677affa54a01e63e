package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"vidsync/internal/protocol"
	"vidsync/internal/rooms"
	"vidsync/internal/store/memstore"
)

// A listener never sends data frames; pings alone must keep the connection
// past the read deadline, and a merge issued well after it must still arrive.
func TestSilentListenerSurvivesReadDeadline(t *testing.T) {
	s := memstore.New(clockwork.NewRealClock())
	manager := rooms.NewManager(s)
	ctx := context.Background()

	created, err := manager.CreateRoom(ctx, "Host", "abc123")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	sess, err := manager.JoinRoom(ctx, created.RoomID, "Listener")
	if err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}

	handler := NewHandler(manager)
	handler.readTimeout = 200 * time.Millisecond
	srv := httptest.NewServer(handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/" + sess.RoomID + "?token=" + sess.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("initial state push never arrived: %v", err)
	}

	// Silent except for pings, three times past the server deadline.
	quiet := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(quiet) {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
			t.Fatalf("ping write failed: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if _, err := s.Merge(ctx, sess.RoomID, protocol.StateUpdate{Timestamp: protocol.Float(42)}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("connection dropped for a silent listener: %v", err)
		}
		var inbound protocol.InboundEnvelope
		if err := json.Unmarshal(data, &inbound); err != nil {
			t.Fatalf("malformed broadcast: %v", err)
		}
		if inbound.Kind != protocol.KindRoomState {
			continue
		}
		var payload protocol.RoomStatePayload
		if err := json.Unmarshal(inbound.Data, &payload); err != nil {
			t.Fatalf("malformed state payload: %v", err)
		}
		if payload.Room.Timestamp == 42 {
			return
		}
	}
}
