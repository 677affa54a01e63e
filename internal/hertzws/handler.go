package hertzws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/websocket"
	"github.com/rs/zerolog/log"

	"vidsync/internal/protocol"
	"vidsync/internal/rooms"
)

const readTimeout = 60 * time.Second

// Handler upgrades room WebSocket connections on the hertz engine.
type Handler struct {
	manager  *rooms.Manager
	upgrader websocket.HertzUpgrader
}

func NewHandler(manager *rooms.Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.HertzUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(ctx *app.RequestContext) bool {
				return true
			},
		},
	}
}

func (h *Handler) HandleWebSocket(c context.Context, ctx *app.RequestContext) {
	roomID := ctx.Param("roomId")
	token := ctx.Query("token")

	if token == "" {
		ctx.String(401, "missing token")
		return
	}

	room, participant, err := h.manager.LookupParticipant(roomID, token)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("participant lookup failed")
		ctx.String(401, err.Error())
		return
	}

	err = h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		// Listeners never send data frames; client pings keep the deadline
		// from reaping a healthy connection.
		conn.SetPingHandler(func(appData string) error {
			conn.SetReadDeadline(time.Now().Add(readTimeout))
			return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		})

		participant.BindConnection(conn)

		sendDone := make(chan struct{})
		go func() {
			participant.SendLoop()
			close(sendDone)
		}()

		if state, err := room.StateSnapshot(c); err == nil {
			participant.Send(protocol.Envelope{
				Kind: protocol.KindRoomState,
				Data: protocol.RoomStatePayload{Room: state},
			})
		}

		readDone := make(chan struct{})
		go func() {
			h.readLoop(c, room, participant, conn)
			close(readDone)
		}()

		select {
		case <-readDone:
		case <-sendDone:
		case <-c.Done():
		}

		conn.Close()
		room.DetachParticipant(participant.ID)
		h.manager.CleanupRoom(room)
	})

	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("websocket upgrade failed")
	}
}

func (h *Handler) readLoop(ctx context.Context, room *rooms.Room, participant *rooms.Participant, conn *websocket.Conn) {
	defer participant.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("room_id", room.ID()).Msg("websocket read error")
			}
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		var inbound protocol.InboundEnvelope
		if err := json.Unmarshal(data, &inbound); err != nil {
			continue
		}

		switch inbound.Kind {
		case protocol.KindControl:
			h.handleControl(ctx, room, participant, inbound.Data)
		case protocol.KindSyncRequest:
			h.handleSyncRequest(ctx, room, participant)
		default:
			participant.Send(protocol.Envelope{
				Kind: protocol.KindError,
				Data: protocol.ErrorPayload{
					Code:    "unknown_kind",
					Message: "unsupported message type",
				},
			})
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

func (h *Handler) handleControl(ctx context.Context, room *rooms.Room, participant *rooms.Participant, data json.RawMessage) {
	var control protocol.ControlMessage
	if err := json.Unmarshal(data, &control); err != nil {
		return
	}

	// The merged state fans out through the store subscription.
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
}

func (h *Handler) handleSyncRequest(ctx context.Context, room *rooms.Room, participant *rooms.Participant) {
	if state, err := room.StateSnapshot(ctx); err == nil {
		participant.Send(protocol.Envelope{
			Kind: protocol.KindRoomState,
			Data: protocol.RoomStatePayload{Room: state},
		})
	}
}
