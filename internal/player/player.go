// Package player abstracts the local media playback engine driven by the
// reconcilers. Implementations must tolerate every call before the engine is
// ready and after Close; both are silent no-ops, never errors.
package player

// State is the canonical playback state of the local engine.
type State int

const (
	Unstarted State = iota
	Playing
	Paused
	Buffering
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Buffering:
		return "buffering"
	default:
		return "unstarted"
	}
}

// Player is the capability surface both reconcilers command. All commands are
// fire-and-forget; the next reconciliation tick observes whether they took.
type Player interface {
	Play()
	Pause()
	SeekTo(seconds float64)

	// CurrentTime reports the current playback position in seconds, 0 when
	// the engine is not ready.
	CurrentTime() float64
	State() State
	Ready() bool

	// Events emits state transitions. The channel is closed when the engine
	// shuts down.
	Events() <-chan State

	Close() error
}
