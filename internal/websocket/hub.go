package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voxbridge/domain/entities"
	"github.com/satriahrh/voxbridge/internal/metrics"
	"github.com/satriahrh/voxbridge/internal/recorder"
	"github.com/satriahrh/voxbridge/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Upper bound for provider connect and disconnect calls.
	providerTimeout = 30 * time.Second

	// Upper bound for session store calls.
	storeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	// Clients are authenticated by token before the upgrade
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hooks are optional callbacks invoked from a session's event loop
type Hooks struct {
	OnConnect       func(session *entities.Session, user *entities.User)
	OnDisconnect    func(session *entities.Session, user *entities.User)
	OnTranscription func(t entities.Transcription, session *entities.Session)
}

// Option configures a Hub
type Option func(*Hub)

// WithRecording enables per-session audio recording
func WithRecording(cfg recorder.Config) Option {
	return func(h *Hub) {
		h.recording = &cfg
	}
}

// WithHooks installs session lifecycle callbacks
func WithHooks(hooks Hooks) Option {
	return func(h *Hub) {
		h.hooks = hooks
	}
}

// WithMetrics records gateway metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// Hub maintains the set of live client sessions.
type Hub struct {
	// Registered clients.
	clients map[*Client]struct{}

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	service   *usecase.SessionService
	recording *recorder.Config
	hooks     Hooks
	metrics   *metrics.Metrics

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(service *usecase.SessionService, logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		service:    service,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("sessionID", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("sessionID", client.id))
		}
	}
}

// Count returns the number of live sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown ends every live session with reason disconnect and waits for
// their teardown to finish or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.stop()
	}
	for _, c := range clients {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h.logger.Info("All sessions closed", zap.Int("count", len(clients)))
	return nil
}

// HandleWebSocket upgrades an authenticated request and starts its session.
func HandleWebSocket(hub *Hub, c echo.Context, user *entities.User) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(hub, conn, user)
	client.startRecording()
	hub.metrics.SessionOpened()

	client.sendJSON(HandshakeMessage{
		Type:            MessageTypeHandshake,
		Providers:       hub.service.Providers(),
		DefaultProvider: hub.service.DefaultProvider(),
	})

	hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
	go client.run()

	return nil
}
