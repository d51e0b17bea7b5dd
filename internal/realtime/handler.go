package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/middleware"
)

// DefaultPingInterval is the keep-alive period of realtime connections.
const DefaultPingInterval = 25 * time.Second

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Hub       *Hub
	Handshake *HandshakeAuthenticator
	// AllowedOrigins restricts the Origin of upgrade requests; empty allows any.
	AllowedOrigins []string
	PingInterval   time.Duration
	Logger         zerolog.Logger
}

// Handler serves websocket upgrades and the internal notification endpoint.
type Handler struct {
	hub          *Hub
	handshake    *HandshakeAuthenticator
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	log          zerolog.Logger
}

// NewHandler validates opts.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Hub == nil || opts.Handshake == nil {
		return nil, errors.New("realtime handler requires a hub and a handshake authenticator")
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	origins := slices.Clone(opts.AllowedOrigins)
	return &Handler{
		hub:       opts.Hub,
		handshake: opts.Handshake,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || slices.Contains(origins, origin)
			},
		},
		pingInterval: opts.PingInterval,
		log:          opts.Logger.With().Str("component", "realtime").Logger(),
	}, nil
}

// Routes mounts the upgrade endpoint at prefix and POST /internal/notifications.
func (h *Handler) Routes(prefix string) func(chi.Router) {
	return func(r chi.Router) {
		r.Get(prefix, h.ServeWS)
		r.Post("/internal/notifications", h.HandleNotification)
	}
}

// ServeWS upgrades the request. Unauthenticated peers are upgraded as anonymous.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity := h.handshake.Authenticate(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newConn(ws, identity, h.log)
	h.hub.Register(c)
	h.log.Info().
		Str("user", identity.Name).
		Bool("authenticated", identity.Authenticated).
		Msg("realtime connection opened")

	go c.writePump(h.pingInterval)
	c.readPump(h.hub, 2*h.pingInterval+writeWait)

	h.hub.Unregister(c)
	h.log.Info().
		Str("user", identity.Name).
		Int64("dropped", c.Dropped()).
		Msg("realtime connection closed")
}

// NotificationResponse reports what happened to a pushed notification.
type NotificationResponse struct {
	Delivered int  `json:"delivered"`
	Buffered  bool `json:"buffered"`
}

// HandleNotification delivers {recipient, destination, body} to a user.
// It expects an authenticated internal-service principal (enforced by the router).
func (h *Handler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	var n Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		middleware.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sender := ""
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		sender = p.Subject
	}

	delivered, buffered, err := h.hub.Notify(n, sender)
	if err != nil {
		middleware.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	hlog.FromRequest(r).Debug().
		Str("recipient", n.Recipient).
		Int("delivered", delivered).
		Bool("buffered", buffered).
		Msg("notification pushed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(NotificationResponse{Delivered: delivered, Buffered: buffered})
}
