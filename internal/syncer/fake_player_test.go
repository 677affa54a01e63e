package syncer

import (
	"sync"

	"vidsync/internal/player"
)

// fakePlayer records every command the reconcilers issue and lets tests set
// position and state directly.
type fakePlayer struct {
	mu       sync.Mutex
	ready    bool
	state    player.State
	position float64
	events   chan player.State

	plays  int
	pauses int
	seeks  []float64
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{
		state:  player.Unstarted,
		events: make(chan player.State, 8),
	}
}

func (f *fakePlayer) Play() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
}

func (f *fakePlayer) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
}

func (f *fakePlayer) SeekTo(seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, seconds)
}

func (f *fakePlayer) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return 0
	}
	return f.position
}

func (f *fakePlayer) State() player.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePlayer) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakePlayer) Events() <-chan player.State { return f.events }

func (f *fakePlayer) Close() error { return nil }

func (f *fakePlayer) set(ready bool, state player.State, position float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
	f.state = state
	f.position = position
}

// emit pushes a transition through the event channel, as a real engine would.
func (f *fakePlayer) emit(state player.State, position float64) {
	f.set(true, state, position)
	f.events <- state
}

func (f *fakePlayer) commands() (plays, pauses int, seeks []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays, f.pauses, append([]float64(nil), f.seeks...)
}
