// Package store defines the shared room-state persistence and broadcast
// contract. Implementations guarantee at-least-once delivery of the latest
// state to each subscriber after a merge; intermediate states across rapid
// merges may be skipped.
package store

import (
	"context"
	"errors"

	"vidsync/internal/protocol"
)

var (
	ErrNotFound     = errors.New("room state not found")
	ErrInvalidVideo = errors.New("invalid video reference")
)

// CancelFunc detaches a subscriber. Safe to call more than once.
type CancelFunc func()

type Store interface {
	// Read returns the current state, or ErrNotFound.
	Read(ctx context.Context, roomID string) (protocol.RoomState, error)

	// Create allocates a room with fresh roomId/hostId bound to the given
	// media reference. An empty videoID is rejected with ErrInvalidVideo
	// before any state is written.
	Create(ctx context.Context, videoID string) (protocol.RoomState, error)

	// Merge performs a read-modify-write of the mutable fields and stamps
	// lastUpdated. The merged state is returned and broadcast to subscribers.
	Merge(ctx context.Context, roomID string, update protocol.StateUpdate) (protocol.RoomState, error)

	// Subscribe registers onChange for every state change in the room.
	Subscribe(ctx context.Context, roomID string, onChange func(protocol.RoomState)) (CancelFunc, error)
}
