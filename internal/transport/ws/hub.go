package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/trade"
)

type client struct {
	actor string
	conn  *websocket.Conn
	out   chan []byte
}

// Hub tracks one live connection per actor and the display names they
// announced. It is the trade.Notifier and trade.Directory of the service.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	names   map[string]string
}

func NewHub() *Hub {
	return &Hub{clients: map[string]*client{}, names: map[string]string{}}
}

// attach registers c and returns the connection it replaced, if any.
func (h *Hub) attach(c *client, name string) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.clients[c.actor]
	h.clients[c.actor] = c
	if name != "" {
		h.names[c.actor] = name
	}
	return old
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.actor] == c {
		delete(h.clients, c.actor)
	}
}

// Online reports whether actor has a live connection.
func (h *Hub) Online(actor string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[actor] != nil
}

func (h *Hub) DisplayName(actor string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.names[actor]
}

// Notify pushes a NOTICE to the recipient if connected. A full queue drops
// the notice; the client can always ask for show.
func (h *Hub) Notify(n trade.Notice) {
	h.mu.RLock()
	c := h.clients[n.To]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	b, err := json.Marshal(protocol.NoticeMsg{
		Type:            protocol.TypeNotice,
		ProtocolVersion: protocol.Version,
		SessionID:       n.SessionID,
		Text:            n.Text,
	})
	if err != nil {
		return
	}
	select {
	case c.out <- b:
	default:
		log.WithField("actor", n.To).Warn("notice dropped: client queue full")
	}
}

// CloseAll disconnects every client. Their handlers return once the command
// in flight, if any, has finished.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.kick(reason)
	}
}

func (c *client) kick(reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
}
