// Package syncer holds the synchronization core: the host reconciler that
// turns local player activity into authoritative room-state writes, and the
// listener reconciler that corrects the local player against the host's last
// checkpoint plus elapsed wall time.
//
// There is no server clock and no round-trip measurement: listeners trust the
// host checkpoint and extrapolate with their own wall clock. That holds as
// long as participant clocks are reasonably close and checkpoints propagate
// with sub-second latency; both are environmental assumptions, not protocol
// guarantees.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"vidsync/internal/protocol"
	"vidsync/internal/store"
)

// ErrFeedLost is returned by the reconciler run loops when the state feed or
// writer reports it is permanently dead. Reconciling against a stale cached
// checkpoint, or heartbeating into a closed connection, only masks the loss.
var ErrFeedLost = errors.New("state feed lost")

const (
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultTickInterval      = time.Second
	DefaultMaxDrift          = 0.8 // seconds
	DefaultBufferingGrace    = 8   // ticks
)

// Options are the tunables shared by both reconcilers. Zero values fall back
// to the defaults above.
type Options struct {
	// HeartbeatInterval is how often the host republishes its position while
	// playing, so a joiner or recovering listener has a recent checkpoint.
	HeartbeatInterval time.Duration

	// TickInterval is the listener reconciliation period.
	TickInterval time.Duration

	// MaxDrift is the seek threshold in seconds. Too tight thrashes seeks on
	// normal player jitter, too loose lets desync become perceptible.
	MaxDrift float64

	// BufferingGraceTicks is how many consecutive buffering ticks a listener
	// tolerates, while the target says playing, before nudging with a seek.
	BufferingGraceTicks int

	Clock clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.MaxDrift <= 0 {
		o.MaxDrift = DefaultMaxDrift
	}
	if o.BufferingGraceTicks <= 0 {
		o.BufferingGraceTicks = DefaultBufferingGrace
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// StateWriter is the slice of the store contract the host reconciler needs.
type StateWriter interface {
	Merge(ctx context.Context, roomID string, update protocol.StateUpdate) (protocol.RoomState, error)
}

// StateFeed is the slice of the store contract the listener reconciler needs.
type StateFeed interface {
	Read(ctx context.Context, roomID string) (protocol.RoomState, error)
	Subscribe(ctx context.Context, roomID string, onChange func(protocol.RoomState)) (store.CancelFunc, error)
}

// doneChannel reports liveness for feeds that can die, like a websocket
// client. In-process stores never do; a nil channel blocks forever.
func doneChannel(v interface{}) <-chan struct{} {
	if d, ok := v.(interface{ Done() <-chan struct{} }); ok {
		return d.Done()
	}
	return nil
}
