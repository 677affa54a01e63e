package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"vidsync/internal/protocol"
	"vidsync/internal/store"
)

var (
	ErrUnauthorizedControl = errors.New("only host can control playback")
)

// textMessage is the RFC 6455 text frame opcode, identical in both websocket
// libraries the transport variants use.
const textMessage = 1

// Conn is the slice of a websocket connection the room needs for fanout.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Room is the participant registry for one room. The authoritative playback
// state lives in the Store; the room only tracks who is connected and fans
// state changes out to them.
type Room struct {
	id           string
	store        store.Store
	participants map[string]*Participant
	tokenIndex   map[string]string
	unsubscribe  store.CancelFunc
	mu           sync.RWMutex
}

type Participant struct {
	ID          string
	Name        string
	Token       string
	IsHost      bool
	conn        Conn
	send        chan []byte
	connectedAt time.Time
}

func newRoom(roomID string, st store.Store) *Room {
	return &Room{
		id:           roomID,
		store:        st,
		participants: make(map[string]*Participant),
		tokenIndex:   make(map[string]string),
	}
}

// watch subscribes the room to the store so every merge reaches every
// connected participant.
func (r *Room) watch(ctx context.Context) error {
	cancel, err := r.store.Subscribe(ctx, r.id, func(state protocol.RoomState) {
		r.Broadcast(protocol.Envelope{
			Kind: protocol.KindRoomState,
			Data: protocol.RoomStatePayload{Room: state},
		})
	})
	if err != nil {
		return err
	}
	r.unsubscribe = cancel
	return nil
}

func (r *Room) stopWatching() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *Room) AttachParticipant(userID, name, token string, isHost bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.participants[userID]; ok {
		delete(r.tokenIndex, existing.Token)
		existing.Token = token
		r.tokenIndex[token] = userID
		return
	}

	r.participants[userID] = &Participant{
		ID:          userID,
		Name:        name,
		Token:       token,
		IsHost:      isHost,
		send:        make(chan []byte, 8),
		connectedAt: time.Now().UTC(),
	}
	r.tokenIndex[token] = userID
}

func (r *Room) FindByToken(token string) (*Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.tokenIndex[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	participant, ok := r.participants[userID]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	return participant, nil
}

// StateSnapshot reads the room's current state from the store.
func (r *Room) StateSnapshot(ctx context.Context) (protocol.RoomState, error) {
	state, err := r.store.Read(ctx, r.id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.RoomState{}, ErrRoomNotFound
		}
		return protocol.RoomState{}, err
	}
	return state, nil
}

func (r *Room) Broadcast(envelope protocol.Envelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, participant := range r.participants {
		if participant.send != nil {
			select {
			case participant.send <- data:
			default:
			}
		}
	}
}

// ApplyControl merges a host-issued update into the store. Non-host senders
// are rejected. The merged state is returned to the caller; fanout to the
// other participants happens through the store subscription.
func (r *Room) ApplyControl(ctx context.Context, senderID string, update protocol.StateUpdate) (protocol.RoomState, error) {
	r.mu.RLock()
	participant, ok := r.participants[senderID]
	r.mu.RUnlock()

	if !ok || !participant.IsHost {
		return protocol.RoomState{}, ErrUnauthorizedControl
	}

	state, err := r.store.Merge(ctx, r.id, update)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.RoomState{}, ErrRoomNotFound
		}
		return protocol.RoomState{}, err
	}
	return state, nil
}

func (r *Room) DetachParticipant(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if participant, ok := r.participants[participantID]; ok {
		if participant.Token != "" {
			delete(r.tokenIndex, participant.Token)
		}
		close(participant.send)
		delete(r.participants, participantID)
	}
}

func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *Room) ID() string {
	return r.id
}

func (p *Participant) BindConnection(conn Conn) {
	p.conn = conn
}

func (p *Participant) SendLoop() {
	defer p.Close()
	for msg := range p.send {
		if p.conn == nil {
			continue
		}
		if err := p.conn.WriteMessage(textMessage, msg); err != nil {
			break
		}
	}
}

func (p *Participant) Close() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *Participant) Connection() Conn {
	return p.conn
}

func (p *Participant) Send(envelope protocol.Envelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	if p.send == nil {
		return
	}
	select {
	case p.send <- data:
	default:
	}
}
