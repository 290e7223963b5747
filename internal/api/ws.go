package api

import (
	"net/http"
	"sync"

	"panelhub/pkg/plugin"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Panels connect from their own origin on the LAN.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StateUpdate is the message pushed to connected panels when a bound
// device's state changes.
type StateUpdate struct {
	Type      string             `json:"type"`
	BindingID string             `json:"bindingId"`
	State     plugin.DeviceState `json:"state"`
}

// Hub fans device-state updates out to connected wall panels. It implements
// the poller's Publisher interface.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]bool
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan StateUpdate
}

// NewHub creates an empty panel socket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger.Named("panelsocket"),
		clients: make(map[*wsClient]bool),
	}
}

// PublishDeviceState broadcasts one state change to all connected panels.
// A panel that cannot keep up is dropped rather than blocking the rest.
func (h *Hub) PublishDeviceState(bindingID string, state plugin.DeviceState) {
	update := StateUpdate{Type: "device_state", BindingID: bindingID, State: state}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- update:
		default:
			h.logger.Warn("Dropping slow panel connection")
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the panel.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade panel connection", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan StateUpdate, 16)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = true
	h.mu.Unlock()

	h.logger.Info("Panel connected", zap.String("remote_addr", r.RemoteAddr))

	go h.writePump(client)
	h.readPump(client)
}

// writePump serializes updates onto the connection.
func (h *Hub) writePump(client *wsClient) {
	for update := range client.send {
		if err := client.conn.WriteJSON(update); err != nil {
			h.logger.Debug("Panel write failed", zap.Error(err))
			client.conn.Close()
			return
		}
	}
	client.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	client.conn.Close()
}

// readPump discards inbound frames and detects disconnects.
func (h *Hub) readPump(client *wsClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(client)
	h.logger.Info("Panel disconnected")
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Close disconnects all panels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}
