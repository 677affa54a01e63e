package syncer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"vidsync/internal/player"
	"vidsync/internal/protocol"
)

// Host translates host-side player activity into authoritative RoomState
// writes. Organic player transitions and the heartbeat are handled by Run;
// Play, Pause and Seek are the explicit command paths that write first and
// command the local player after, so the affordance does not wait for the
// player's own event callback.
//
// Writes are never retried: a failed merge is logged (event path) or returned
// (command path) and superseded by the next event or heartbeat.
type Host struct {
	roomID string
	store  StateWriter
	player player.Player
	opts   Options
}

func NewHost(roomID string, w StateWriter, p player.Player, opts Options) *Host {
	return &Host{
		roomID: roomID,
		store:  w,
		player: p,
		opts:   opts.withDefaults(),
	}
}

// Run drives the event loop until the context is cancelled, the player's
// event channel closes, or the state writer dies (ErrFeedLost).
func (h *Host) Run(ctx context.Context) error {
	ticker := h.opts.Clock.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	dead := doneChannel(h.store)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-dead:
			return ErrFeedLost
		case state, ok := <-h.player.Events():
			if !ok {
				return nil
			}
			h.onPlayerState(ctx, state)
		case <-ticker.Chan():
			h.heartbeat(ctx)
		}
	}
}

func (h *Host) onPlayerState(ctx context.Context, state player.State) {
	switch state {
	case player.Playing:
		h.write(ctx, protocol.StateUpdate{
			IsPlaying: protocol.Bool(true),
			Timestamp: protocol.Float(h.player.CurrentTime()),
		})
	case player.Paused:
		h.write(ctx, protocol.StateUpdate{
			IsPlaying: protocol.Bool(false),
			Timestamp: protocol.Float(h.player.CurrentTime()),
		})
	}
}

// heartbeat republishes the checkpoint while playing so a listener joining or
// recovering mid-playback has a recent one. It never touches isPlaying.
func (h *Host) heartbeat(ctx context.Context) {
	if h.player.State() != player.Playing {
		return
	}
	h.write(ctx, protocol.StateUpdate{
		Timestamp: protocol.Float(h.player.CurrentTime()),
	})
}

func (h *Host) write(ctx context.Context, update protocol.StateUpdate) {
	if _, err := h.store.Merge(ctx, h.roomID, update); err != nil {
		log.Warn().Err(err).Str("room_id", h.roomID).Msg("state write failed, next event or heartbeat supersedes")
	}
}

// Play publishes play intent at the current position, then commands the local
// player to match.
func (h *Host) Play(ctx context.Context) error {
	_, err := h.store.Merge(ctx, h.roomID, protocol.StateUpdate{
		IsPlaying: protocol.Bool(true),
		Timestamp: protocol.Float(h.player.CurrentTime()),
	})
	if err != nil {
		return fmt.Errorf("publish play: %w", err)
	}
	h.player.Play()
	return nil
}

// Pause publishes pause intent at the current position, then commands the
// local player to match.
func (h *Host) Pause(ctx context.Context) error {
	_, err := h.store.Merge(ctx, h.roomID, protocol.StateUpdate{
		IsPlaying: protocol.Bool(false),
		Timestamp: protocol.Float(h.player.CurrentTime()),
	})
	if err != nil {
		return fmt.Errorf("publish pause: %w", err)
	}
	h.player.Pause()
	return nil
}

// Seek publishes the seek target immediately, independent of play state, then
// commands the local player.
func (h *Host) Seek(ctx context.Context, seconds float64) error {
	_, err := h.store.Merge(ctx, h.roomID, protocol.StateUpdate{
		Timestamp: protocol.Float(seconds),
	})
	if err != nil {
		return fmt.Errorf("publish seek: %w", err)
	}
	h.player.SeekTo(seconds)
	return nil
}
