package main

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"
)

const sendTimeout = 500 * time.Millisecond

// envelope mirrors the client wire frame.
type envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// client is one connected websocket subscriber.
type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(env envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return c.conn.WriteJSON(env)
}

// hub tracks subscribers and broadcasts envelopes to them.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func newHub() *hub {
	return &hub{clients: map[string]*client{}}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast sends to every subscriber except the one named by exclude.
// Slow subscribers are skipped, not waited for.
func (h *hub) broadcast(env envelope, exclude string) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		if id != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := c.send(env); err != nil {
				zlog.Debug().Err(err).Str("client", c.id).Msg("simulator: broadcast send failed")
			}
		}(c)
	}
	wg.Wait()
}
