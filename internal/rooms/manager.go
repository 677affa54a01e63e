package rooms

import (
	"context"
	"errors"
	"sync"

	"github.com/RanFeng/ilog"
	"github.com/google/uuid"

	"vidsync/internal/protocol"
	"vidsync/internal/session"
	"vidsync/internal/store"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidToken        = errors.New("invalid token")
)

// Manager owns the participant registries and mediates every room operation
// against the Store. The store decides identity (roomId/hostId); the manager
// decides who may control playback.
type Manager struct {
	store store.Store
	mu    sync.RWMutex
	rooms map[string]*Room
}

type Session struct {
	RoomID string             `json:"roomId"`
	UserID string             `json:"userId"`
	Token  string             `json:"token"`
	Role   session.Role       `json:"role"`
	State  protocol.RoomState `json:"state"`
}

func NewManager(st store.Store) *Manager {
	return &Manager{
		store: st,
		rooms: make(map[string]*Room),
	}
}

// CreateRoom validates the media reference, creates authoritative state and
// binds the creator as host. An invalid reference leaves no partial room
// behind (store.ErrInvalidVideo).
func (m *Manager) CreateRoom(ctx context.Context, displayName, videoID string) (*Session, error) {
	state, err := m.store.Create(ctx, videoID)
	if err != nil {
		return nil, err
	}

	room := newRoom(state.RoomID, m.store)
	if err := room.watch(context.Background()); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.rooms[state.RoomID] = room
	m.mu.Unlock()

	token := uuid.NewString()
	room.AttachParticipant(state.HostID, displayName, token, true)

	return &Session{
		RoomID: state.RoomID,
		UserID: state.HostID,
		Token:  token,
		Role:   session.RoleHost,
		State:  state,
	}, nil
}

// JoinRoom resolves the room, attaches the caller as a listener and returns
// the current state. An unknown room is terminal for this session.
func (m *Manager) JoinRoom(ctx context.Context, roomID, displayName string) (*Session, error) {
	state, err := m.store.Read(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	room, err := m.roomFor(roomID)
	if err != nil {
		return nil, err
	}

	userID := uuid.NewString()
	token := uuid.NewString()
	room.AttachParticipant(userID, displayName, token, false)

	return &Session{
		RoomID: roomID,
		UserID: userID,
		Token:  token,
		Role:   session.RoleListener,
		State:  state,
	}, nil
}

// roomFor returns the participant registry for a room, creating one when this
// node has not seen the room yet (it may exist only in a shared store).
func (m *Manager) roomFor(roomID string) (*Room, error) {
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if ok {
		return room, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[roomID]; ok {
		return room, nil
	}
	room = newRoom(roomID, m.store)
	if err := room.watch(context.Background()); err != nil {
		return nil, err
	}
	m.rooms[roomID] = room
	return room, nil
}

func (m *Manager) GetState(ctx context.Context, roomID string) (protocol.RoomState, error) {
	state, err := m.store.Read(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.RoomState{}, ErrRoomNotFound
		}
		return protocol.RoomState{}, err
	}
	return state, nil
}

func (m *Manager) LookupParticipant(roomID, token string) (*Room, *Participant, error) {
	ctx := context.Background()
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	ilog.EventInfo(ctx, "LookupParticipant", "roomID", roomID, "found", ok)
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	participant, err := room.FindByToken(token)
	if err != nil {
		return nil, nil, err
	}
	return room, participant, nil
}

// CleanupRoom drops the participant registry and its store subscription once
// the room is empty. The authoritative state stays in the store; expiry is an
// external concern.
func (m *Manager) CleanupRoom(room *Room) {
	if room == nil {
		return
	}
	if room.ParticipantCount() > 0 {
		return
	}
	roomID := room.ID()
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rooms[roomID]
	if ok && current == room {
		current.stopWatching()
		delete(m.rooms, roomID)
	}
}
