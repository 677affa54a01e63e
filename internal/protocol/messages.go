package protocol

import "encoding/json"

const (
	KindRoomState   = "ROOM_STATE"
	KindControl     = "CONTROL"
	KindSyncRequest = "SYNC_REQUEST"
	KindError       = "ERROR"
)

type ControlMessage struct {
	RoomID string      `json:"roomId"`
	Sender string      `json:"senderId"`
	Update StateUpdate `json:"update"`
}

type RoomStatePayload struct {
	Room RoomState `json:"room"`
}

type SyncRequest struct {
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Envelope struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

type InboundEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}
