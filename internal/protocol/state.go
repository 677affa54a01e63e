package protocol

import "time"

// RoomState is the authoritative playback intent for a room. Timestamp is a
// checkpoint captured at LastUpdated, not a live position: while IsPlaying is
// true the current position must be derived via ProjectedPosition.
type RoomState struct {
	RoomID      string  `json:"roomId"`
	HostID      string  `json:"hostId"`
	VideoID     string  `json:"videoId"`
	IsPlaying   bool    `json:"isPlaying"`
	Timestamp   float64 `json:"timestamp"`
	LastUpdated int64   `json:"lastUpdated"`
}

// StateUpdate is a partial update to the mutable RoomState fields. Nil fields
// are left untouched by Apply.
type StateUpdate struct {
	IsPlaying *bool    `json:"isPlaying,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// Apply merges the update into a copy of the state and stamps LastUpdated
// with the capture instant. Identity fields are never touched.
func (s RoomState) Apply(update StateUpdate, at time.Time) RoomState {
	next := s
	if update.IsPlaying != nil {
		next.IsPlaying = *update.IsPlaying
	}
	if update.Timestamp != nil {
		next.Timestamp = *update.Timestamp
	}
	next.LastUpdated = at.UnixMilli()
	return next
}

// ProjectedPosition returns the playback position implied by the state at the
// given wall-clock instant. Paused rooms sit at the checkpoint; playing rooms
// extrapolate linearly from it.
func (s RoomState) ProjectedPosition(now time.Time) float64 {
	if !s.IsPlaying {
		return s.Timestamp
	}
	return s.Timestamp + float64(now.UnixMilli()-s.LastUpdated)/1000
}

// Bool returns a pointer for use in a StateUpdate.
func Bool(b bool) *bool { return &b }

// Float returns a pointer for use in a StateUpdate.
func Float(f float64) *float64 { return &f }
