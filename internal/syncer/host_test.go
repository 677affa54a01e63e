package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"vidsync/internal/player"
	"vidsync/internal/protocol"
	"vidsync/internal/store/memstore"
)

func waitForState(t *testing.T, s *memstore.Store, roomID string, want func(protocol.RoomState) bool) protocol.RoomState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state, err := s.Read(context.Background(), roomID)
		if err == nil && want(state) {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	state, _ := s.Read(context.Background(), roomID)
	t.Fatalf("state never reached expectation, last: %+v", state)
	return protocol.RoomState{}
}

func TestHostPlayerEventsWriteState(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1000))
	s := memstore.New(clock)
	created, err := s.Create(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	fp := newFakePlayer()
	host := NewHost(created.RoomID, s, fp, Options{Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = host.Run(ctx)
		close(done)
	}()
	clock.BlockUntil(1)

	fp.emit(player.Playing, 12.5)
	waitForState(t, s, created.RoomID, func(st protocol.RoomState) bool {
		return st.IsPlaying && st.Timestamp == 12.5
	})

	fp.emit(player.Paused, 14.0)
	waitForState(t, s, created.RoomID, func(st protocol.RoomState) bool {
		return !st.IsPlaying && st.Timestamp == 14.0
	})

	cancel()
	<-done
}

func TestHostHeartbeatOnlyWhilePlaying(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1000))
	s := memstore.New(clock)
	created, err := s.Create(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	fp := newFakePlayer()
	fp.set(true, player.Paused, 5.0)
	host := NewHost(created.RoomID, s, fp, Options{Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = host.Run(ctx)
		close(done)
	}()
	clock.BlockUntil(1)

	before, _ := s.Read(ctx, created.RoomID)

	// Paused: the heartbeat must not write.
	clock.Advance(2 * time.Second)
	time.Sleep(50 * time.Millisecond)
	after, _ := s.Read(ctx, created.RoomID)
	if after != before {
		t.Errorf("heartbeat wrote while paused: %+v -> %+v", before, after)
	}

	// Playing: the heartbeat writes a timestamp-only update.
	if _, err := s.Merge(ctx, created.RoomID, protocol.StateUpdate{IsPlaying: protocol.Bool(true)}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	fp.set(true, player.Playing, 31.5)

	clock.Advance(2 * time.Second)
	got := waitForState(t, s, created.RoomID, func(st protocol.RoomState) bool {
		return st.Timestamp == 31.5
	})
	if !got.IsPlaying {
		t.Error("heartbeat must not change isPlaying")
	}

	cancel()
	<-done
}

func TestHostExplicitCommandsWriteThenCommand(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1000))
	s := memstore.New(clock)
	created, err := s.Create(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	fp := newFakePlayer()
	fp.set(true, player.Paused, 20.0)
	host := NewHost(created.RoomID, s, fp, Options{Clock: clock})
	ctx := context.Background()

	if err := host.Play(ctx); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	state, _ := s.Read(ctx, created.RoomID)
	if !state.IsPlaying || state.Timestamp != 20.0 {
		t.Errorf("unexpected state after explicit play: %+v", state)
	}
	plays, _, _ := fp.commands()
	if plays != 1 {
		t.Errorf("expected exactly one play command, got %d", plays)
	}

	if err := host.Seek(ctx, 90.0); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	state, _ = s.Read(ctx, created.RoomID)
	if state.Timestamp != 90.0 {
		t.Errorf("seek target not written: %+v", state)
	}
	if !state.IsPlaying {
		t.Error("seek must not change isPlaying")
	}
	_, _, seeks := fp.commands()
	if len(seeks) != 1 || seeks[0] != 90.0 {
		t.Errorf("expected one seek to 90.0, got %v", seeks)
	}

	if err := host.Pause(ctx); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	state, _ = s.Read(ctx, created.RoomID)
	if state.IsPlaying {
		t.Errorf("pause not written: %+v", state)
	}
}

// closableWriter is a memstore that can report itself dead, the way a
// connection-backed writer does.
type closableWriter struct {
	*memstore.Store
	done chan struct{}
}

func (w *closableWriter) Done() <-chan struct{} { return w.done }

func TestHostRunStopsWhenWriterDies(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1000))
	s := memstore.New(clock)
	created, err := s.Create(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w := &closableWriter{Store: s, done: make(chan struct{})}
	fp := newFakePlayer()
	fp.set(true, player.Playing, 10.0)
	host := NewHost(created.RoomID, w, fp, Options{Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- host.Run(ctx) }()
	clock.BlockUntil(1)

	close(w.done)

	select {
	case runErr := <-errCh:
		if !errors.Is(runErr, ErrFeedLost) {
			t.Errorf("expected ErrFeedLost, got %v", runErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept heartbeating into a dead writer")
	}
}

type failingWriter struct{}

func (failingWriter) Merge(ctx context.Context, roomID string, update protocol.StateUpdate) (protocol.RoomState, error) {
	return protocol.RoomState{}, errors.New("store unavailable")
}

func TestHostFailedWriteSurfacedAndPlayerUntouched(t *testing.T) {
	fp := newFakePlayer()
	fp.set(true, player.Paused, 10.0)
	host := NewHost("room-1", failingWriter{}, fp, Options{})

	if err := host.Play(context.Background()); err == nil {
		t.Fatal("expected explicit play to surface the write failure")
	}

	plays, pauses, seeks := fp.commands()
	if plays != 0 || pauses != 0 || len(seeks) != 0 {
		t.Errorf("player must not be commanded when the write fails: %d/%d/%v", plays, pauses, seeks)
	}
}
