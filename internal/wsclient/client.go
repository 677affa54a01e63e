// Package wsclient realizes the state feed/writer contracts over the room
// service's WebSocket transport, for participants running outside the server
// process. It caches the latest broadcast state; history is never replayed,
// which is exactly what the reconcilers expect.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"vidsync/internal/protocol"
	"vidsync/internal/store"
)

// pingInterval paces the keepalive pings. Listeners never send data frames,
// so without pings a server-side read deadline would drop them as dead.
var pingInterval = 20 * time.Second

const pingWriteWait = 5 * time.Second

type Client struct {
	baseURL  string
	roomID   string
	senderID string
	conn     *websocket.Conn

	mu      sync.RWMutex
	latest  protocol.RoomState
	has     bool
	subs    map[int]func(protocol.RoomState)
	nextSub int

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// Dial connects to the room's WebSocket channel. baseURL is the room
// service's HTTP base (http://host:port); senderID and token come from the
// create/join session.
func Dial(ctx context.Context, baseURL, roomID, senderID, token string) (*Client, error) {
	wsURL := httpToWS(baseURL) + "/ws/rooms/" + roomID + "?token=" + token

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &Client{
		baseURL:  baseURL,
		roomID:   roomID,
		senderID: senderID,
		conn:     conn,
		subs:     make(map[int]func(protocol.RoomState)),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// pingLoop keeps the connection alive from the receiving side: a listener's
// only other traffic is inbound broadcasts.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		}
	}
}

// Prime seeds the cache with a state obtained out of band (typically the join
// response), so Read works before the first broadcast arrives.
func (c *Client) Prime(state protocol.RoomState) {
	c.observe(state)
}

// Read returns the latest observed state, or ErrNotFound when nothing has
// been delivered yet.
func (c *Client) Read(ctx context.Context, roomID string) (protocol.RoomState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.has {
		return protocol.RoomState{}, store.ErrNotFound
	}
	return c.latest, nil
}

// Merge sends a CONTROL envelope. The server rejects non-host senders; the
// merged state comes back through the broadcast, so the returned state is the
// local cache, not a read-your-write.
func (c *Client) Merge(ctx context.Context, roomID string, update protocol.StateUpdate) (protocol.RoomState, error) {
	envelope := protocol.Envelope{
		Kind: protocol.KindControl,
		Data: protocol.ControlMessage{
			RoomID: roomID,
			Sender: c.senderID,
			Update: update,
		},
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return protocol.RoomState{}, fmt.Errorf("encode control: %w", err)
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return protocol.RoomState{}, fmt.Errorf("send control: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, nil
}

func (c *Client) Subscribe(ctx context.Context, roomID string, onChange func(protocol.RoomState)) (store.CancelFunc, error) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = onChange
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
	return cancel, nil
}

// Done is closed when the connection drops; the feed is then dead and the
// owner decides whether to rejoin.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
		if err := c.conn.Close(); err != nil {
			log.Debug().Err(err).Msg("websocket close failed")
		}
	})
	return nil
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var inbound protocol.InboundEnvelope
		if err := json.Unmarshal(data, &inbound); err != nil {
			continue
		}
		switch inbound.Kind {
		case protocol.KindRoomState:
			var payload protocol.RoomStatePayload
			if err := json.Unmarshal(inbound.Data, &payload); err != nil {
				continue
			}
			c.observe(payload.Room)
		case protocol.KindError:
			var payload protocol.ErrorPayload
			if err := json.Unmarshal(inbound.Data, &payload); err != nil {
				continue
			}
			log.Warn().Str("code", payload.Code).Str("message", payload.Message).Msg("server error")
		}
	}
}

func (c *Client) observe(state protocol.RoomState) {
	c.mu.Lock()
	c.latest = state
	c.has = true
	subs := make([]func(protocol.RoomState), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

func httpToWS(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return "ws://" + baseURL
	}
}
