// Package redistore backs the Store contract with Redis: room state lives in
// a hash under room:{id}, change notifications ride Redis pub/sub on
// room:{id}:state. Merges are serialized with a redsync mutex so replicas
// sharing one Redis never interleave a read-modify-write.
package redistore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"vidsync/internal/protocol"
	"vidsync/internal/store"
)

type Store struct {
	rdb   *redis.Client
	rs    *redsync.Redsync
	clock clockwork.Clock
}

func New(rdb *redis.Client, clock clockwork.Clock) *Store {
	pool := goredis.NewPool(rdb)
	return &Store{
		rdb:   rdb,
		rs:    redsync.New(pool),
		clock: clock,
	}
}

func roomKey(roomID string) string     { return "room:" + roomID }
func roomChannel(roomID string) string { return "room:" + roomID + ":state" }
func mergeLock(roomID string) string   { return "lock:room:" + roomID }

func (s *Store) Read(ctx context.Context, roomID string) (protocol.RoomState, error) {
	fields, err := s.rdb.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return protocol.RoomState{}, fmt.Errorf("read room %s: %w", roomID, err)
	}
	if len(fields) == 0 {
		return protocol.RoomState{}, store.ErrNotFound
	}
	return stateFromFields(fields)
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

	if err := s.rdb.HSet(ctx, roomKey(state.RoomID), fieldsFromState(state)).Err(); err != nil {
		return protocol.RoomState{}, fmt.Errorf("create room: %w", err)
	}
	return state, nil
}

func (s *Store) Merge(ctx context.Context, roomID string, update protocol.StateUpdate) (protocol.RoomState, error) {
	mutex := s.rs.NewMutex(mergeLock(roomID))
	if err := mutex.LockContext(ctx); err != nil {
		return protocol.RoomState{}, fmt.Errorf("lock room %s: %w", roomID, err)
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("merge lock release failed")
		}
	}()

	current, err := s.Read(ctx, roomID)
	if err != nil {
		return protocol.RoomState{}, err
	}

	next := current.Apply(update, s.clock.Now())
	if err := s.rdb.HSet(ctx, roomKey(roomID), fieldsFromState(next)).Err(); err != nil {
		return protocol.RoomState{}, fmt.Errorf("merge room %s: %w", roomID, err)
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return protocol.RoomState{}, fmt.Errorf("encode room %s: %w", roomID, err)
	}
	if err := s.rdb.Publish(ctx, roomChannel(roomID), payload).Err(); err != nil {
		return protocol.RoomState{}, fmt.Errorf("publish room %s: %w", roomID, err)
	}
	return next, nil
}

func (s *Store) Subscribe(ctx context.Context, roomID string, onChange func(protocol.RoomState)) (store.CancelFunc, error) {
	pubsub := s.rdb.Subscribe(ctx, roomChannel(roomID))
	// Force the subscription to be established before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe room %s: %w", roomID, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var state protocol.RoomState
			if err := json.Unmarshal([]byte(msg.Payload), &state); err != nil {
				log.Warn().Err(err).Str("room_id", roomID).Msg("dropping malformed state notification")
				continue
			}
			onChange(state)
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				log.Warn().Err(err).Str("room_id", roomID).Msg("pubsub close failed")
			}
		})
	}
	return cancel, nil
}

func fieldsFromState(state protocol.RoomState) map[string]interface{} {
	return map[string]interface{}{
		"roomId":      state.RoomID,
		"hostId":      state.HostID,
		"videoId":     state.VideoID,
		"isPlaying":   strconv.FormatBool(state.IsPlaying),
		"timestamp":   strconv.FormatFloat(state.Timestamp, 'f', -1, 64),
		"lastUpdated": strconv.FormatInt(state.LastUpdated, 10),
	}
}

func stateFromFields(fields map[string]string) (protocol.RoomState, error) {
	isPlaying, err := strconv.ParseBool(fields["isPlaying"])
	if err != nil {
		return protocol.RoomState{}, fmt.Errorf("parse isPlaying: %w", err)
	}
	timestamp, err := strconv.ParseFloat(fields["timestamp"], 64)
	if err != nil {
		return protocol.RoomState{}, fmt.Errorf("parse timestamp: %w", err)
	}
	lastUpdated, err := strconv.ParseInt(fields["lastUpdated"], 10, 64)
	if err != nil {
		return protocol.RoomState{}, fmt.Errorf("parse lastUpdated: %w", err)
	}
	return protocol.RoomState{
		RoomID:      fields["roomId"],
		HostID:      fields["hostId"],
		VideoID:     fields["videoId"],
		IsPlaying:   isPlaying,
		Timestamp:   timestamp,
		LastUpdated: lastUpdated,
	}, nil
}
