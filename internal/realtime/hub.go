package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/drleavio/chatapp/internal/logger"
	"github.com/drleavio/chatapp/internal/models"
)

// Event types
const (
	EventChatCreated    = "chat.created"
	EventMessageCreated = "message.created"
	EventTyping         = "typing"
	EventError          = "error"
)

const (
	writeWait            = 10 * time.Second
	pongWait             = 60 * time.Second
	pingPeriod           = 54 * time.Second
	maxMessageSize       = 64 * 1024
	sendBufferSize       = 256
	maxMessagesPerMinute = 60
)

var log = logger.New("realtime")

// Event is pushed to clients so they know which list to refetch.
type Event struct {
	Type      string    `json:"type"`
	ChatID    string    `json:"chatId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	SenderID  string    `json:"senderId,omitempty"`
	IsTyping  bool      `json:"isTyping,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier fans an event out to a set of users.
type Notifier interface {
	Notify(ctx context.Context, userIDs []uuid.UUID, event Event) error
}

// Store is what the hub needs from the persistence gateway.
type Store interface {
	SetPresence(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error
	GetChatByID(ctx context.Context, id uuid.UUID) (*models.Chat, error)
}

// ConnectionCounter tracks on how many server instances a user is connected.
// Connect and Disconnect return the count after the change.
type ConnectionCounter interface {
	Connect(ctx context.Context, userID uuid.UUID) (int64, error)
	Disconnect(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Client is one websocket connection of a user
type Client struct {
	UserID uuid.UUID
	Socket *websocket.Conn
	Send   chan []byte
}

// Hub owns the set of live connections. A user may hold several at once.
type Hub struct {
	store      Store
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.Mutex
	upgrader   websocket.Upgrader

	// counter is set when several instances share presence; without it the
	// hub's own connections decide whether a user is online.
	counter ConnectionCounter

	// relay carries events produced by this hub's own clients; a Bridge
	// replaces it so typing indicators reach users on other instances.
	relay Notifier
}

// NewHub creates a hub; allowedOrigins empty means any origin is accepted.
func NewHub(store Store, allowedOrigins []string) *Hub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	h := &Hub{
		store:      store,
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
	}
	h.relay = h
	return h
}

// Run processes registrations until ctx is cancelled. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.mutex.Lock()
			first := len(h.clients[client.UserID]) == 0
			if first {
				h.clients[client.UserID] = make(map[*Client]struct{})
			}
			h.clients[client.UserID][client] = struct{}{}
			h.mutex.Unlock()

			log.Info("Client connected: %s", client.UserID)
			if first {
				h.connected(client.UserID)
			}
		case client := <-h.unregister:
			h.mutex.Lock()
			last := false
			if conns, ok := h.clients[client.UserID]; ok {
				if _, ok := conns[client]; ok {
					delete(conns, client)
					close(client.Send)
				}
				if len(conns) == 0 {
					delete(h.clients, client.UserID)
					last = true
				}
			}
			h.mutex.Unlock()

			log.Info("Client disconnected: %s", client.UserID)
			if last {
				h.disconnected(client.UserID)
			}
		}
	}
}

// add hands a new connection to Run. It reports false once the hub has stopped.
func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) connected(userID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if h.counter != nil {
		if _, err := h.counter.Connect(ctx, userID); err != nil {
			log.Warn("Failed to count connection of %s: %v", userID, err)
		}
	}
	h.setPresence(ctx, userID, true)
}

func (h *Hub) disconnected(userID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if h.counter != nil {
		remaining, err := h.counter.Disconnect(ctx, userID)
		if err != nil {
			log.Warn("Failed to count disconnection of %s: %v", userID, err)
		} else if remaining > 0 {
			log.Debug("User %s still connected to %d other instances", userID, remaining)
			return
		}
	}
	h.setPresence(ctx, userID, false)
}

func (h *Hub) setPresence(ctx context.Context, userID uuid.UUID, online bool) {
	if h.store == nil {
		return
	}
	if err := h.store.SetPresence(ctx, userID, online, time.Now().UTC()); err != nil {
		log.Warn("Failed to update presence for %s: %v", userID, err)
	}
}

// IsOnline reports whether the user has at least one live connection on this hub.
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients[userID]) > 0
}

// SendToUser queues message on every connection of userID. A connection whose
// buffer is full misses the message; clients refetch on the next event anyway.
func (h *Hub) SendToUser(userID uuid.UUID, message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	conns, ok := h.clients[userID]
	if !ok {
		log.Debug("User %s not connected", userID)
		return
	}

	for client := range conns {
		select {
		case client.Send <- message:
		default:
			log.Warn("Send buffer full for user %s, dropping message", userID)
		}
	}
}

// Notify delivers event to every listed user connected to this hub.
func (h *Hub) Notify(ctx context.Context, userIDs []uuid.UUID, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	for _, id := range userIDs {
		h.SendToUser(id, payload)
	}
	return nil
}

// HandleWebSocket upgrades an authenticated request. The auth middleware
// must have stored the caller's uuid under "userID".
func (h *Hub) HandleWebSocket(c *gin.Context) {
	value, exists := c.Get("userID")
	userID, ok := value.(uuid.UUID)
	if !exists || !ok {
		log.Warn("No userID in context, rejecting connection from %s", c.Request.RemoteAddr)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	select {
	case <-h.done:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server shutting down"})
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		UserID: userID,
		Socket: conn,
		Send:   make(chan []byte, sendBufferSize),
	}

	if !h.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) sendError(content string) {
	payload, _ := json.Marshal(Event{Type: EventError, Content: content, Timestamp: time.Now().UTC()})
	select {
	case c.Send <- payload:
	default:
	}
}

// readPump handles typing indicators; everything else flows over HTTP.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.remove(c)
		c.Socket.Close()
	}()

	c.Socket.SetReadLimit(maxMessageSize)
	c.Socket.SetReadDeadline(time.Now().Add(pongWait))
	c.Socket.SetPongHandler(func(string) error {
		c.Socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	messageCount := 0
	windowStart := time.Now()

	for {
		_, data, err := c.Socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error("Error reading from client %s: %v", c.UserID, err)
			}
			return
		}

		if time.Since(windowStart) >= time.Minute {
			messageCount = 0
			windowStart = time.Now()
		}
		messageCount++
		if messageCount > maxMessagesPerMinute {
			log.Warn("Rate limit exceeded for client %s", c.UserID)
			continue
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.sendError("Invalid message format")
			continue
		}

		switch event.Type {
		case EventTyping:
			c.forwardTyping(h, event)
		default:
			c.sendError("Unknown message type")
		}
	}
}

func (c *Client) forwardTyping(h *Hub, event Event) {
	chatID, err := uuid.Parse(event.ChatID)
	if err != nil || h.store == nil {
		c.sendError("Invalid chat ID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	chat, err := h.store.GetChatByID(ctx, chatID)
	if err != nil || !chat.HasParticipant(c.UserID) {
		c.sendError("Invalid chat ID")
		return
	}

	out := Event{
		Type:      EventTyping,
		ChatID:    chat.ID.String(),
		SenderID:  c.UserID.String(),
		IsTyping:  event.IsTyping,
		Timestamp: time.Now().UTC(),
	}
	var others []uuid.UUID
	for _, p := range chat.Participants {
		if p != c.UserID {
			others = append(others, p)
		}
	}
	if err := h.relay.Notify(ctx, others, out); err != nil {
		log.Warn("Failed to forward typing indicator from %s: %v", c.UserID, err)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
