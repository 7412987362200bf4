package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rollupwallet/wallet-daemon/refresher"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	conn *websocket.Conn
	send chan []byte
	log  *logrus.Logger
	mu   sync.Mutex
}

// WebSocketManager manages all WebSocket connections
type WebSocketManager struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan []byte
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	log        *logrus.Logger
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager(log *logrus.Logger) *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan []byte, 100),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		log:        log,
	}
}

// Run starts the WebSocket manager
func (manager *WebSocketManager) Run() {
	for {
		select {
		case client := <-manager.register:
			manager.clients[client] = true
			manager.log.Infof("New WebSocket client connected. Total clients: %d", len(manager.clients))
		case client := <-manager.unregister:
			if _, ok := manager.clients[client]; ok {
				delete(manager.clients, client)
				close(client.send)
				manager.log.Infof("WebSocket client disconnected. Total clients: %d", len(manager.clients))
			}
		case message := <-manager.broadcast:
			for client := range manager.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(manager.clients, client)
				}
			}
		}
	}
}

// BroadcastUpdate pushes an address's refreshed account list task to every
// connected client.
func (manager *WebSocketManager) BroadcastUpdate(address string, task refresher.Task) {
	message, err := json.Marshal(struct {
		Event   string         `json:"event"`
		Address string         `json:"address"`
		Task    refresher.Task `json:"task"`
	}{
		Event:   "accountsUpdated",
		Address: address,
		Task:    task,
	})
	if err != nil {
		manager.log.Errorf("Failed to marshal WebSocket update: %v", err)
		return
	}
	select {
	case manager.broadcast <- message:
	default:
		manager.log.Warn("WebSocket broadcast channel full, dropping update")
	}
}

// handleWebSocket processes WebSocket connections
func handleWebSocket(c *gin.Context, manager *WebSocketManager) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		manager.log.Errorf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	client := &WebSocketClient{
		conn: conn,
		send: make(chan []byte, 256),
		log:  manager.log,
	}

	manager.register <- client

	go client.writePump()
	go client.readPump(manager)
}

// readPump drains incoming frames so pings and close frames are handled.
// The update channel is push-only, clients never send requests over it.
func (c *WebSocketClient) readPump(manager *WebSocketManager) {
	defer func() {
		manager.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024) // 512KB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Errorf("WebSocket read error: %v", err)
			}
			break
		}
	}
}

// writePump pumps messages from the manager to the WebSocket connection
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.mu.Lock()
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.mu.Unlock()
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		case <-ticker.C:
			c.mu.Lock()
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}
