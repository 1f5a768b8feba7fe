// Package game maintains the websocket link to the game-server plugin.
// The plugin streams session events (join, quit, move, chat) to the bridge
// and executes the commands the bridge sends back.
package game

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/meteorlabs/kookbridge/internal/domain"
)

// Events receives session events decoded from the plugin stream.
// PlayerMoved's return value tells the plugin to cancel the movement.
type Events interface {
	PlayerJoined(ctx context.Context, playerName, playerUUID string)
	PlayerQuit(playerName string)
	PlayerChat(playerName, world, message string)
	PlayerMoved(playerName string, from, to domain.Position) bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The endpoint is token-authenticated, origin carries no signal
		return true
	},
}

// client is one connected plugin instance. Outbound commands go through
// the send channel so a single goroutine owns all writes.
type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
}

// Hub accepts plugin connections and fans commands out to them. Normally
// one plugin is connected; a brief overlap during server restart is fine.
type Hub struct {
	token   string
	handler Events

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a Hub. token must match the plugin's configured secret.
func NewHub(token string, handler Events) *Hub {
	return &Hub{
		token:   token,
		handler: handler,
		clients: make(map[*client]bool),
	}
}

// ServeHTTP upgrades an authenticated request to the plugin websocket
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token == "" || r.Header.Get("Authorization") != "Bearer "+h.token {
		log.WithField("remote", r.RemoteAddr).Warn("plugin connection rejected: bad token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("plugin websocket upgrade failed")
		return
	}

	c := &client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 256),
		remoteAddr: r.RemoteAddr,
	}

	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	log.WithFields(log.Fields{"remote": c.remoteAddr, "total": total}).Info("game plugin connected")

	go c.writePump()
	go c.readPump()
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	log.WithFields(log.Fields{"remote": c.remoteAddr, "total": total}).Info("game plugin disconnected")
}

// Connected reports whether any plugin link is up
func (h *Hub) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// send queues a command for every connected plugin. A plugin that cannot
// keep up is dropped rather than allowed to stall the rest.
func (h *Hub) sendCommand(cmd Command) {
	data, err := json.Marshal(cmd)
	if err != nil {
		log.WithError(err).Error("marshaling plugin command")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.WithError(err).Warn("plugin websocket read error")
			}
			break
		}

		var ev domain.SessionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.WithError(err).Warn("malformed session event from plugin")
			continue
		}
		c.dispatch(ev)
	}
}

func (c *client) dispatch(ev domain.SessionEvent) {
	switch ev.Type {
	case domain.EventPlayerJoin:
		c.hub.handler.PlayerJoined(context.Background(), ev.PlayerName, ev.PlayerUUID)
	case domain.EventPlayerQuit:
		c.hub.handler.PlayerQuit(ev.PlayerName)
	case domain.EventPlayerChat:
		c.hub.handler.PlayerChat(ev.PlayerName, ev.World, ev.Message)
	case domain.EventPlayerMove:
		if ev.From == nil || ev.To == nil {
			return
		}
		if c.hub.handler.PlayerMoved(ev.PlayerName, *ev.From, *ev.To) {
			c.hub.CancelMove(ev.PlayerName, *ev.From)
		}
	default:
		log.WithField("type", ev.Type).Debug("ignoring unknown session event")
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
