package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"vidsync/internal/protocol"
	"vidsync/internal/rooms"
)

const defaultReadTimeout = 60 * time.Second

type Handler struct {
	manager     *rooms.Manager
	upgrader    websocket.Upgrader
	readTimeout time.Duration
}

func NewHandler(manager *rooms.Manager) *Handler {
	return &Handler{
		manager:     manager,
		readTimeout: defaultReadTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID, err := extractRoomID(r.URL.Path)
	if err != nil {
		log.Warn().Str("path", r.URL.Path).Msg("invalid room path")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("invalid room path"))
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("missing token"))
		return
	}

	room, participant, err := h.manager.LookupParticipant(roomID, token)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("participant lookup failed")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(err.Error()))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The connection may be partially written already; writing an error
		// response here can EPIPE.
		log.Warn().Err(err).Str("room_id", roomID).Msg("websocket upgrade failed")
		return
	}

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	// Listeners only receive, so liveness rides on client pings.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	participant.BindConnection(conn)
	go participant.SendLoop()

	if state, err := room.StateSnapshot(r.Context()); err == nil {
		participant.Send(protocol.Envelope{
			Kind: protocol.KindRoomState,
			Data: protocol.RoomStatePayload{Room: state},
		})
	}

	h.readLoop(r.Context(), room, participant, conn)
	room.DetachParticipant(participant.ID)
	h.manager.CleanupRoom(room)
}

func (h *Handler) readLoop(ctx context.Context, room *rooms.Room, participant *rooms.Participant, conn *websocket.Conn) {
	defer participant.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		var inbound protocol.InboundEnvelope
		if err := json.Unmarshal(data, &inbound); err != nil {
			continue
		}
		switch inbound.Kind {
		case protocol.KindControl:
			var control protocol.ControlMessage
			if err := json.Unmarshal(inbound.Data, &control); err != nil {
				continue
			}
			if _, err := room.ApplyControl(ctx, participant.ID, control.Update); err != nil {
				code := "control_failed"
				if errors.Is(err, rooms.ErrUnauthorizedControl) {
					code = "unauthorized"
				}
				participant.Send(protocol.Envelope{
					Kind: protocol.KindError,
					Data: protocol.ErrorPayload{
						Code:    code,
						Message: err.Error(),
					},
				})
			}
			// The merged state reaches every participant through the store
			// subscription; no explicit broadcast here.
		case protocol.KindSyncRequest:
			var req protocol.SyncRequest
			if err := json.Unmarshal(inbound.Data, &req); err != nil {
				continue
			}
			if state, err := room.StateSnapshot(ctx); err == nil {
				participant.Send(protocol.Envelope{
					Kind: protocol.KindRoomState,
					Data: protocol.RoomStatePayload{Room: state},
				})
			}
		default:
			participant.Send(protocol.Envelope{
				Kind: protocol.KindError,
				Data: protocol.ErrorPayload{
					Code:    "unknown_kind",
					Message: "unsupported message type",
				},
			})
		}
	}
}

func extractRoomID(path string) (string, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "ws" || parts[1] != "rooms" {
		return "", errors.New("invalid path")
	}
	return parts[2], nil
}
