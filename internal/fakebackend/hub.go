package fakebackend

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/elock-client/internal/channel"
)

// wsSendBufferSize is the per-client outbound message buffer size.
const wsSendBufferSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// hub tracks websocket clients and their lock rooms.
type hub struct {
	srv     *Server
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	hub    *hub
	conn   *websocket.Conn
	send   chan []byte
	userID int64

	mu     sync.RWMutex
	authed bool
	rooms  map[int64]struct{}
}

func newHub(s *Server) *hub {
	return &hub{srv: s, clients: make(map[*wsClient]struct{})}
}

func (h *hub) serve(conn *websocket.Conn, userID int64) {
	c := &wsClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		userID: userID,
		rooms:  make(map[int64]struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.srv.logger.Debug("websocket client connected", "user_id", userID, "clients", h.clientCount())

	go c.writePump()
	go c.readPump()
}

// unregister removes c. Only the caller that removes it closes c.send.
func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.srv.logger.Debug("websocket client disconnected", "user_id", c.userID, "clients", h.clientCount())
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) roomSize(lockID int64) int {
	n := 0
	for _, c := range h.snapshot() {
		c.mu.RLock()
		if _, ok := c.rooms[lockID]; ok && c.authed {
			n++
		}
		c.mu.RUnlock()
	}
	return n
}

func (h *hub) authenticated() int {
	n := 0
	for _, c := range h.snapshot() {
		c.mu.RLock()
		if c.authed {
			n++
		}
		c.mu.RUnlock()
	}
	return n
}

func (h *hub) snapshot() []*wsClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// publish sends an event to the lock's room and to its grant holders.
func (h *hub) publish(lockID int64, kind string, payload any) {
	h.publishTo(lockID, h.srv.lockMembers(lockID), kind, payload)
}

func (h *hub) publishTo(lockID int64, members map[int64]struct{}, kind string, payload any) {
	f, err := eventFrame(kind, payload)
	if err != nil {
		h.srv.logger.Error("failed to encode event", "kind", kind, "error", err)
		return
	}
	f.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(f)
	if err != nil {
		h.srv.logger.Error("failed to marshal event frame", "error", err)
		return
	}

	// Snapshot the client list, then release before per-client checks.
	sent := 0
	for _, c := range h.snapshot() {
		_, member := members[c.userID]
		if c.wants(lockID, member) {
			c.trySend(data)
			sent++
		}
	}
	h.srv.logger.Debug("event published", "kind", kind, "lock_id", lockID, "recipients", sent)
}

func (c *wsClient) wants(lockID int64, member bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.authed {
		return false
	}
	_, joined := c.rooms[lockID]
	return joined || member
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.srv.wsCfg
	wait := cfg.GetPingInterval() + cfg.GetPongTimeout()
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.hub.srv.logger.Debug("websocket closed", "error", err)
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))
		if !c.handleMessage(message) {
			return
		}
	}
}

func (c *wsClient) writePump() {
	cfg := c.hub.srv.wsCfg
	ticker := time.NewTicker(cfg.GetPingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(cfg.GetPongTimeout()))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(cfg.GetPongTimeout()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes one client frame. It returns false when the
// connection must be dropped.
func (c *wsClient) handleMessage(data []byte) bool {
	var f channel.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.sendError(f.ID, "invalid JSON message")
		return true
	}

	if f.Type == channel.FrameAuth {
		return c.handleAuth(f)
	}

	c.mu.RLock()
	authed := c.authed
	c.mu.RUnlock()
	if !authed {
		c.sendError(f.ID, "auth frame required")
		return false
	}

	switch f.Type {
	case channel.FrameJoinLock, channel.FrameLeaveLock:
		var room channel.RoomPayload
		if err := json.Unmarshal(f.Payload, &room); err != nil || room.LockID == 0 {
			c.sendError(f.ID, "invalid room payload")
			return true
		}
		c.mu.Lock()
		if f.Type == channel.FrameJoinLock {
			c.rooms[room.LockID] = struct{}{}
		} else {
			delete(c.rooms, room.LockID)
		}
		c.mu.Unlock()
		c.hub.srv.logger.Debug("websocket room change", "type", f.Type, "lock_id", room.LockID)
	case channel.FramePing:
		c.sendFrame(channel.Frame{Type: channel.FramePong, ID: f.ID})
	default:
		c.sendError(f.ID, "unknown message type: "+f.Type)
	}
	return true
}

func (c *wsClient) handleAuth(f channel.Frame) bool {
	var auth channel.AuthPayload
	if err := json.Unmarshal(f.Payload, &auth); err != nil {
		c.sendError(f.ID, "invalid auth payload")
		return false
	}
	userID, ok := c.hub.srv.validToken(auth.Token)
	if !ok || userID != c.userID {
		c.sendError(f.ID, "invalid token")
		return false
	}
	c.mu.Lock()
	c.authed = true
	c.mu.Unlock()
	return true
}

// trySend drops the frame when the client is gone or its buffer is full.
func (c *wsClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) sendFrame(f channel.Frame) {
	f.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *wsClient) sendError(id, message string) {
	f, err := channel.NewFrame(channel.FrameError, map[string]string{"message": message})
	if err != nil {
		return
	}
	f.ID = id
	c.sendFrame(f)
}
