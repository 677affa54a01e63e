// Package memstore is the in-process Store used by a single-node deployment
// and by tests.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"vidsync/internal/protocol"
	"vidsync/internal/store"
)

type Store struct {
	mu     sync.RWMutex
	rooms  map[string]*entry
	clock  clockwork.Clock
	nextID int
}

type entry struct {
	state protocol.RoomState
	subs  map[int]*subscriber
}

// subscriber holds a one-slot mailbox: a pending undelivered state is
// replaced by a newer one, so a slow consumer only ever sees the latest.
type subscriber struct {
	ch   chan protocol.RoomState
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// offer replaces any pending state so the mailbox always holds the latest.
func (s *subscriber) offer(state protocol.RoomState) {
	for {
		select {
		case <-s.done:
			return
		case s.ch <- state:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func New(clock clockwork.Clock) *Store {
	return &Store{
		rooms: make(map[string]*entry),
		clock: clock,
	}
}

func (s *Store) Read(ctx context.Context, roomID string) (protocol.RoomState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.rooms[roomID]
	if !ok {
		return protocol.RoomState{}, store.ErrNotFound
	}
	return e.state, nil
}

func (s *Store) Create(ctx context.Context, videoID string) (protocol.RoomState, error) {
	if strings.TrimSpace(videoID) == "" {
		return protocol.RoomState{}, store.ErrInvalidVideo
	}

	state := protocol.RoomState{
		RoomID:      uuid.NewString(),
		HostID:      uuid.NewString(),
		VideoID:     videoID,
		IsPlaying:   false,
		Timestamp:   0,
		LastUpdated: s.clock.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.rooms[state.RoomID] = &entry{
		state: state,
		subs:  make(map[int]*subscriber),
	}
	s.mu.Unlock()

	return state, nil
}

func (s *Store) Merge(ctx context.Context, roomID string, update protocol.StateUpdate) (protocol.RoomState, error) {
	s.mu.Lock()
	e, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return protocol.RoomState{}, store.ErrNotFound
	}
	e.state = e.state.Apply(update, s.clock.Now())
	state := e.state
	subs := make([]*subscriber, 0, len(e.subs))
	for _, sub := range e.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.offer(state)
	}
	return state, nil
}

func (s *Store) Subscribe(ctx context.Context, roomID string, onChange func(protocol.RoomState)) (store.CancelFunc, error) {
	s.mu.Lock()
	e, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	s.nextID++
	id := s.nextID
	sub := &subscriber{
		ch:   make(chan protocol.RoomState, 1),
		done: make(chan struct{}),
	}
	e.subs[id] = sub
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case state := <-sub.ch:
				onChange(state)
			}
		}
	}()

	cancel := func() {
		s.mu.Lock()
		if e, ok := s.rooms[roomID]; ok {
			delete(e.subs, id)
		}
		s.mu.Unlock()
		sub.stop()
	}
	return cancel, nil
}
