package syncer

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"vidsync/internal/player"
	"vidsync/internal/protocol"
)

// Listener reconciles the local player against the host's last checkpoint.
// It is idle until three things hold: the player is ready, at least one
// RoomState has arrived, and Engage was called (host environments gate
// autonomous playback behind an explicit user gesture).
//
// Every tick recomputes the target from the cached state plus current wall
// time, so a broadcast notification racing a tick is harmless: whichever
// state the tick observes is used. Corrective commands are fire-and-forget;
// the next tick's fresh read is the verification.
type Listener struct {
	roomID string
	feed   StateFeed
	player player.Player
	opts   Options

	mu             sync.Mutex
	latest         protocol.RoomState
	hasState       bool
	engaged        bool
	videoID        string
	bufferingTicks int

	onMediaChanged func(videoID string)
	mediaChanged   chan string
}

func NewListener(roomID string, feed StateFeed, p player.Player, opts Options) *Listener {
	return &Listener{
		roomID:       roomID,
		feed:         feed,
		player:       p,
		opts:         opts.withDefaults(),
		mediaChanged: make(chan string, 1),
	}
}

// OnMediaChanged registers a hook invoked when the room's media identifier
// changes mid-session. Run returns right after the hook; the owner tears the
// player down and rebuilds both. Must be set before Run.
func (l *Listener) OnMediaChanged(fn func(videoID string)) {
	l.onMediaChanged = fn
}

// Engage records the explicit playback gesture. Until it is called the
// listener issues no player commands.
func (l *Listener) Engage() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.engaged = true
}

// Tracking reports whether the listener is actively reconciling.
func (l *Listener) Tracking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engaged && l.hasState && l.player.Ready()
}

// Run subscribes to the room's state feed and reconciles on a fixed tick
// until the context is cancelled, the media identifier changes, or the feed
// dies (ErrFeedLost). The subscription and the ticker are torn down on
// return.
func (l *Listener) Run(ctx context.Context) error {
	if state, err := l.feed.Read(ctx, l.roomID); err == nil {
		l.observe(state)
	}

	cancel, err := l.feed.Subscribe(ctx, l.roomID, l.observe)
	if err != nil {
		return err
	}
	defer cancel()

	ticker := l.opts.Clock.NewTicker(l.opts.TickInterval)
	defer ticker.Stop()

	dead := doneChannel(l.feed)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-dead:
			log.Warn().Str("room_id", l.roomID).Msg("state feed lost, stopping reconciliation")
			return ErrFeedLost
		case videoID := <-l.mediaChanged:
			log.Info().Str("room_id", l.roomID).Str("video_id", videoID).Msg("media changed, stopping reconciliation")
			if l.onMediaChanged != nil {
				l.onMediaChanged(videoID)
			}
			return nil
		case <-ticker.Chan():
			l.tick()
		}
	}
}

// observe caches the newest room state. Only the latest state matters; gaps
// across rapid merges are expected and fine.
func (l *Listener) observe(state protocol.RoomState) {
	l.mu.Lock()
	if !l.hasState {
		l.videoID = state.VideoID
	} else if state.VideoID != l.videoID {
		l.mu.Unlock()
		select {
		case l.mediaChanged <- state.VideoID:
		default:
		}
		return
	}
	l.latest = state
	l.hasState = true
	l.mu.Unlock()
}

// tick runs one reconciliation pass. A tick before the first state, before
// the gesture, or before the player is ready is a no-op.
func (l *Listener) tick() {
	l.mu.Lock()
	if !l.engaged || !l.hasState || !l.player.Ready() {
		l.mu.Unlock()
		return
	}
	state := l.latest
	l.mu.Unlock()

	target := state.ProjectedPosition(l.opts.Clock.Now())
	local := l.player.CurrentTime()
	localState := l.player.State()

	seeked := false
	if drift := math.Abs(local - target); drift > l.opts.MaxDrift {
		log.Debug().
			Str("room_id", l.roomID).
			Float64("drift", drift).
			Float64("target", target).
			Msg("drift over threshold, seeking")
		l.player.SeekTo(target)
		seeked = true
	}

	// Play/pause reconciliation is independent of the seek decision.
	// Buffering is a legitimate catching-up state, never fought with play.
	switch {
	case state.IsPlaying && localState != player.Playing && localState != player.Buffering:
		l.player.Play()
	case !state.IsPlaying && localState == player.Playing:
		l.player.Pause()
	}

	l.reconcileBuffering(state, localState, target, seeked)
}

// reconcileBuffering nudges a player stuck buffering while the target says
// playing: after BufferingGraceTicks consecutive buffering ticks, one seek to
// the current target, then the counter restarts.
func (l *Listener) reconcileBuffering(state protocol.RoomState, localState player.State, target float64, seeked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !state.IsPlaying || localState != player.Buffering {
		l.bufferingTicks = 0
		return
	}

	l.bufferingTicks++
	if l.bufferingTicks < l.opts.BufferingGraceTicks {
		return
	}
	l.bufferingTicks = 0
	if !seeked {
		log.Debug().Str("room_id", l.roomID).Float64("target", target).Msg("buffering past grace, nudging")
		l.player.SeekTo(target)
	}
}
