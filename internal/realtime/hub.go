// Package realtime is the push gateway of the mesh: authenticated websocket
// connections subscribe to topics and to their own user queues, and internal
// services push notifications to users through it.
package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// Client-facing error messages.
const (
	msgAnonymousSend      = "anonymous connections cannot send"
	msgAnonymousSubscribe = "user queues require an authenticated connection"
	msgBadDestination     = "unsupported destination"
	msgUnknownFrame       = "unknown frame type"
)

// HubOptions configures a Hub.
type HubOptions struct {
	// OfflineUsers bounds how many users may have buffered messages; least recently used are evicted.
	OfflineUsers int
	// OfflineDepth bounds the messages kept per user; the oldest are dropped.
	OfflineDepth int
	Logger       zerolog.Logger
}

// Hub tracks live connections and routes frames between them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
	users map[string]map[*Conn]struct{}

	offlineMu sync.Mutex
	offline   *lru.Cache[string, []Frame]
	depth     int

	log zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(opts HubOptions) (*Hub, error) {
	if opts.OfflineUsers <= 0 {
		opts.OfflineUsers = 1024
	}
	if opts.OfflineDepth <= 0 {
		opts.OfflineDepth = 50
	}
	offline, err := lru.New[string, []Frame](opts.OfflineUsers)
	if err != nil {
		return nil, err
	}
	return &Hub{
		conns:   make(map[*Conn]struct{}),
		users:   make(map[string]map[*Conn]struct{}),
		offline: offline,
		depth:   opts.OfflineDepth,
		log:     opts.Logger.With().Str("component", "realtime_hub").Logger(),
	}, nil
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
	if c.identity.Authenticated {
		set, ok := h.users[c.identity.Name]
		if !ok {
			set = make(map[*Conn]struct{})
			h.users[c.identity.Name] = set
		}
		set[c] = struct{}{}
	}
	h.log.Debug().Str("user", c.identity.Name).Bool("authenticated", c.identity.Authenticated).Msg("connection registered")
}

// Unregister removes a connection. It is safe to call more than once.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
	if set, ok := h.users[c.identity.Name]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.identity.Name)
		}
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast delivers body to every subscriber of a /topic/... destination
// and returns how many connections accepted it.
func (h *Hub) Broadcast(destination string, body json.RawMessage, sender string) int {
	frame := Frame{Type: FrameMessage, Destination: destination, Body: body, Sender: sender}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for c := range h.conns {
		if c.isSubscribed(destination) && c.enqueue(frame) {
			delivered++
		}
	}
	return delivered
}

// SendToUser delivers body to every connection of user subscribed to the
// user-relative queue (e.g. /queue/notifications). When no connection takes
// it, the message is held in the offline buffer.
func (h *Hub) SendToUser(user, queue string, body json.RawMessage, sender string) (delivered int, buffered bool) {
	subscription := ownQueueFor(queue)
	frame := Frame{Type: FrameMessage, Destination: subscription, Body: body, Sender: sender}

	h.mu.RLock()
	for c := range h.users[user] {
		if c.isSubscribed(subscription) && c.enqueue(frame) {
			delivered++
		}
	}
	h.mu.RUnlock()

	if delivered > 0 {
		return delivered, false
	}
	h.buffer(user, frame)
	return 0, true
}

// Handle dispatches one client frame from c.
func (h *Hub) Handle(c *Conn, f Frame) {
	switch f.Type {
	case FrameSubscribe:
		h.subscribe(c, f.Destination)
	case FrameUnsubscribe:
		c.unsubscribe(f.Destination)
		c.enqueue(Frame{Type: FrameReceipt, Destination: f.Destination})
	case FrameSend:
		h.send(c, f)
	default:
		c.enqueue(errorFrame(f.Destination, msgUnknownFrame))
	}
}

func (h *Hub) subscribe(c *Conn, destination string) {
	switch {
	case isTopic(destination):
		c.subscribe(destination)
		c.enqueue(Frame{Type: FrameReceipt, Destination: destination})
	case isOwnQueue(destination):
		if !c.identity.Authenticated {
			c.enqueue(errorFrame(destination, msgAnonymousSubscribe))
			return
		}
		c.subscribe(destination)
		c.enqueue(Frame{Type: FrameReceipt, Destination: destination})
		for _, frame := range h.drain(c.identity.Name, destination) {
			c.enqueue(frame)
		}
	default:
		c.enqueue(errorFrame(destination, msgBadDestination))
	}
}

func (h *Hub) send(c *Conn, f Frame) {
	if !c.identity.Authenticated {
		c.enqueue(errorFrame(f.Destination, msgAnonymousSend))
		return
	}
	if isTopic(f.Destination) {
		h.Broadcast(f.Destination, f.Body, c.identity.Name)
		return
	}
	if user, queue, ok := parseUserDestination(f.Destination); ok {
		h.SendToUser(user, queue, f.Body, c.identity.Name)
		return
	}
	c.enqueue(errorFrame(f.Destination, msgBadDestination))
}

func (h *Hub) buffer(user string, frame Frame) {
	h.offlineMu.Lock()
	defer h.offlineMu.Unlock()
	frames, _ := h.offline.Get(user)
	frames = append(frames, frame)
	if len(frames) > h.depth {
		frames = frames[len(frames)-h.depth:]
	}
	h.offline.Add(user, frames)
}

// drain removes and returns the buffered frames of user addressed to destination.
func (h *Hub) drain(user, destination string) []Frame {
	h.offlineMu.Lock()
	defer h.offlineMu.Unlock()
	frames, ok := h.offline.Peek(user)
	if !ok {
		return nil
	}
	var out, keep []Frame
	for _, f := range frames {
		if f.Destination == destination {
			out = append(out, f)
		} else {
			keep = append(keep, f)
		}
	}
	if len(keep) == 0 {
		h.offline.Remove(user)
	} else {
		h.offline.Add(user, keep)
	}
	return out
}

// Buffered returns how many messages are held for user.
func (h *Hub) Buffered(user string) int {
	h.offlineMu.Lock()
	defer h.offlineMu.Unlock()
	frames, _ := h.offline.Peek(user)
	return len(frames)
}

// ErrInvalidNotification is returned for a notification without recipient or queue.
var ErrInvalidNotification = errors.New("notification requires recipient and a /queue/ destination")

// Notification is pushed by internal services to one user.
type Notification struct {
	Recipient   string          `json:"recipient"`
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
}

// Notify validates n and delivers it to its recipient.
func (h *Hub) Notify(n Notification, sender string) (delivered int, buffered bool, err error) {
	queue := n.Destination
	if queue == "" {
		queue = "/queue/notifications"
	}
	if n.Recipient == "" || !isQueue(queue) {
		return 0, false, ErrInvalidNotification
	}
	delivered, buffered = h.SendToUser(n.Recipient, queue, n.Body, sender)
	return delivered, buffered, nil
}
