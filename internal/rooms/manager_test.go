package rooms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"vidsync/internal/protocol"
	"vidsync/internal/session"
	"vidsync/internal/store"
	"vidsync/internal/store/memstore"
)

func newTestManager() (*Manager, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1000))
	return NewManager(memstore.New(clock)), clock
}

func TestCreateRoom(t *testing.T) {
	manager, _ := newTestManager()

	sess, err := manager.CreateRoom(context.Background(), "Test User", "abc123")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	if sess.RoomID == "" {
		t.Error("RoomID should not be empty")
	}

	if sess.UserID == "" {
		t.Error("UserID should not be empty")
	}

	if sess.Token == "" {
		t.Error("Token should not be empty")
	}

	if sess.Role != session.RoleHost {
		t.Error("creator should resolve as host")
	}

	if sess.State.RoomID != sess.RoomID {
		t.Error("RoomID mismatch in state")
	}

	if sess.State.HostID != sess.UserID {
		t.Error("creator should be bound as the room's host")
	}

	if sess.State.VideoID != "abc123" {
		t.Errorf("VideoID mismatch: expected abc123, got %s", sess.State.VideoID)
	}

	if sess.State.IsPlaying {
		t.Error("new room should not be playing")
	}

	if sess.State.Timestamp != 0 {
		t.Error("new room position should be 0")
	}
}

func TestCreateRoomInvalidVideo(t *testing.T) {
	manager, _ := newTestManager()

	_, err := manager.CreateRoom(context.Background(), "Test User", "   ")
	if !errors.Is(err, store.ErrInvalidVideo) {
		t.Errorf("expected ErrInvalidVideo, got %v", err)
	}
}

func TestJoinRoom(t *testing.T) {
	manager, _ := newTestManager()
	ctx := context.Background()

	host, err := manager.CreateRoom(ctx, "Host", "abc123")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	joined, err := manager.JoinRoom(ctx, host.RoomID, "Participant")
	if err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}

	if joined.RoomID != host.RoomID {
		t.Error("RoomID mismatch")
	}

	if joined.UserID == "" || joined.Token == "" {
		t.Error("joiner should get identity and token")
	}

	if joined.Role != session.RoleListener {
		t.Error("joiner should resolve as listener")
	}

	if joined.State.VideoID != "abc123" {
		t.Errorf("VideoID mismatch: expected abc123, got %s", joined.State.VideoID)
	}
}

func TestJoinNonExistentRoom(t *testing.T) {
	manager, _ := newTestManager()

	_, err := manager.JoinRoom(context.Background(), "non-existent-room", "User")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestGetState(t *testing.T) {
	manager, _ := newTestManager()
	ctx := context.Background()

	host, err := manager.CreateRoom(ctx, "Host", "abc123")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	state, err := manager.GetState(ctx, host.RoomID)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}

	if state.RoomID != host.RoomID {
		t.Error("RoomID mismatch")
	}
}

func TestGetStateNonExistentRoom(t *testing.T) {
	manager, _ := newTestManager()

	_, err := manager.GetState(context.Background(), "non-existent-room")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestLookupParticipant(t *testing.T) {
	manager, _ := newTestManager()

	host, err := manager.CreateRoom(context.Background(), "Host", "abc123")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	room, participant, err := manager.LookupParticipant(host.RoomID, host.Token)
	if err != nil {
		t.Fatalf("LookupParticipant failed: %v", err)
	}

	if room == nil || participant == nil {
		t.Fatal("room and participant should not be nil")
	}

	if participant.ID != host.UserID {
		t.Error("participant ID mismatch")
	}

	if !participant.IsHost {
		t.Error("creator's participant should be host")
	}
}

func TestLookupParticipantInvalidToken(t *testing.T) {
	manager, _ := newTestManager()

	host, err := manager.CreateRoom(context.Background(), "Host", "abc123")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	_, _, err = manager.LookupParticipant(host.RoomID, "invalid-token")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestApplyControl(t *testing.T) {
	manager, clock := newTestManager()
	ctx := context.Background()

	host, err := manager.CreateRoom(ctx, "Host", "abc123")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	room, participant, err := manager.LookupParticipant(host.RoomID, host.Token)
	if err != nil {
		t.Fatalf("LookupParticipant failed: %v", err)
	}

	clock.Advance(5 * time.Second)

	state, err := room.ApplyControl(ctx, participant.ID, protocol.StateUpdate{
		IsPlaying: protocol.Bool(true),
		Timestamp: protocol.Float(10.5),
	})
	if err != nil {
		t.Fatalf("ApplyControl failed: %v", err)
	}

	if !state.IsPlaying {
		t.Error("IsPlaying should be true after control")
	}

	if state.Timestamp != 10.5 {
		t.Errorf("Timestamp mismatch: expected 10.5, got %f", state.Timestamp)
	}

	if state.LastUpdated != 6000 {
		t.Errorf("LastUpdated should advance to write instant, got %d", state.LastUpdated)
	}

	if state.VideoID != "abc123" {
		t.Error("control must not change the media identifier")
	}
}

func TestApplyControlRejectsListener(t *testing.T) {
	manager, _ := newTestManager()
	ctx := context.Background()

	host, err := manager.CreateRoom(ctx, "Host", "abc123")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	joined, err := manager.JoinRoom(ctx, host.RoomID, "Listener")
	if err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}

	room, participant, err := manager.LookupParticipant(host.RoomID, joined.Token)
	if err != nil {
		t.Fatalf("LookupParticipant failed: %v", err)
	}

	_, err = room.ApplyControl(ctx, participant.ID, protocol.StateUpdate{
		IsPlaying: protocol.Bool(true),
	})
	if !errors.Is(err, ErrUnauthorizedControl) {
		t.Errorf("expected ErrUnauthorizedControl, got %v", err)
	}
}

func TestCleanupRoomStopsWatching(t *testing.T) {
	manager, _ := newTestManager()
	ctx := context.Background()

	host, err := manager.CreateRoom(ctx, "Host", "abc123")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	room, _, err := manager.LookupParticipant(host.RoomID, host.Token)
	if err != nil {
		t.Fatalf("LookupParticipant failed: %v", err)
	}

	// Still occupied: cleanup is a no-op.
	manager.CleanupRoom(room)
	if _, _, err := manager.LookupParticipant(host.RoomID, host.Token); err != nil {
		t.Fatalf("occupied room should survive cleanup: %v", err)
	}

	room.DetachParticipant(host.UserID)
	manager.CleanupRoom(room)

	if _, _, err := manager.LookupParticipant(host.RoomID, host.Token); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("empty room should be gone after cleanup, got %v", err)
	}
}
