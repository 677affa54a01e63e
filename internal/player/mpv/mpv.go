// Package mpv adapts a running mpv instance (--input-ipc-server) to the
// player contract over its JSON IPC socket.
package mpv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"vidsync/internal/player"
)

const (
	propPause          = 1
	propTimePos        = 2
	propPausedForCache = 3
)

type request struct {
	Command   []interface{} `json:"command"`
	RequestID int64         `json:"request_id"`
}

type message struct {
	Event string      `json:"event,omitempty"`
	ID    int         `json:"id,omitempty"`
	Name  string      `json:"name,omitempty"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type Player struct {
	mu     sync.Mutex
	conn   net.Conn
	reqID  int64
	closed bool

	ready   bool
	paused  bool
	caching bool
	timePos float64
	last    player.State

	events chan player.State
	done   chan struct{}
}

// Connect dials the mpv IPC socket and starts observing playback properties.
func Connect(socketPath string) (*Player, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial mpv socket %s: %w", socketPath, err)
	}

	p := &Player{
		conn:   conn,
		last:   player.Unstarted,
		events: make(chan player.State, 8),
		done:   make(chan struct{}),
	}

	go p.readLoop()

	p.send("observe_property", propPause, "pause")
	p.send("observe_property", propTimePos, "time-pos")
	p.send("observe_property", propPausedForCache, "paused-for-cache")

	return p, nil
}

func (p *Player) Play()  { p.send("set_property", "pause", false) }
func (p *Player) Pause() { p.send("set_property", "pause", true) }

func (p *Player) SeekTo(seconds float64) {
	p.send("seek", seconds, "absolute")
}

func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return 0
	}
	return p.timePos
}

func (p *Player) State() player.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Player) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *Player) Events() <-chan player.State {
	return p.events
}

// Close tears the IPC connection down. Errors are swallowed: teardown runs on
// unrelated lifecycle transitions and must not fail them.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.ready = false
	conn := p.conn
	p.mu.Unlock()

	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Msg("mpv socket close failed")
	}
	return nil
}

func (p *Player) send(args ...interface{}) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.reqID++
	req := request{Command: args, RequestID: p.reqID}
	conn := p.conn
	p.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		log.Warn().Err(err).Msg("mpv command encode failed")
		return
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		log.Debug().Err(err).Msg("mpv command write failed")
	}
}

func (p *Player) readLoop() {
	defer close(p.events)
	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		p.handle(msg)
	}
}

func (p *Player) handle(msg message) {
	p.mu.Lock()
	switch msg.Event {
	case "file-loaded":
		p.ready = true
	case "end-file":
		p.ready = false
	case "property-change":
		switch msg.ID {
		case propPause:
			if v, ok := msg.Data.(bool); ok {
				p.paused = v
			}
		case propTimePos:
			if v, ok := msg.Data.(float64); ok {
				p.timePos = v
			}
		case propPausedForCache:
			if v, ok := msg.Data.(bool); ok {
				p.caching = v
			}
		}
	}

	state := p.deriveState()
	changed := state != p.last
	p.last = state
	p.mu.Unlock()

	if changed {
		p.publish(state)
	}
}

// publish delivers a transition without ever dropping the newest one: a full
// channel sheds its oldest pending state instead. Only the read loop calls
// this, so the retry cannot race another producer.
func (p *Player) publish(state player.State) {
	for {
		select {
		case p.events <- state:
			return
		default:
		}
		select {
		case <-p.events:
		default:
		}
	}
}

// deriveState maps mpv's property set onto the canonical states. Callers hold
// p.mu.
func (p *Player) deriveState() player.State {
	switch {
	case !p.ready:
		return player.Unstarted
	case p.caching:
		return player.Buffering
	case p.paused:
		return player.Paused
	default:
		return player.Playing
	}
}
