package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Conn is one websocket connection. Outbound frames go through a bounded
// queue; a full queue drops the frame instead of blocking the hub.
type Conn struct {
	identity Identity
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once

	subsMu sync.RWMutex
	subs   map[string]struct{}

	dropped atomic.Int64
	log     zerolog.Logger
}

func newConn(ws *websocket.Conn, identity Identity, log zerolog.Logger) *Conn {
	return &Conn{
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		subs:     make(map[string]struct{}),
		log:      log.With().Str("user", identity.Name).Logger(),
	}
}

// Identity returns the peer identity resolved at handshake.
func (c *Conn) Identity() Identity { return c.identity }

// Dropped returns how many frames were discarded because the peer was too slow.
func (c *Conn) Dropped() int64 { return c.dropped.Load() }

func (c *Conn) subscribe(destination string) {
	c.subsMu.Lock()
	c.subs[destination] = struct{}{}
	c.subsMu.Unlock()
}

func (c *Conn) unsubscribe(destination string) {
	c.subsMu.Lock()
	delete(c.subs, destination)
	c.subsMu.Unlock()
}

func (c *Conn) isSubscribed(destination string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	_, ok := c.subs[destination]
	return ok
}

// enqueue never blocks. It reports whether the frame was queued.
func (c *Conn) enqueue(f Frame) bool {
	payload, err := json.Marshal(f)
	if err != nil {
		c.log.Error().Err(err).Msg("encode frame")
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.dropped.Add(1)
		c.log.Warn().Str("destination", f.Destination).Msg("slow consumer, frame dropped")
		return false
	}
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// readPump decodes client frames until the peer goes away.
func (c *Conn) readPump(hub *Hub, pongWait time.Duration) {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("connection closed")
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.enqueue(errorFrame("", "malformed frame"))
				continue
			}
			return
		}
		hub.Handle(c, f)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Conn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
