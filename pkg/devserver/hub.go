package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ngld/sitebuild/pkg/sblog"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// Message is sent to the browsers. LiveCSS tells the client to swap the stylesheet at Path instead of reloading
// the page.
type Message struct {
	Command string `json:"command"`
	Path    string `json:"path"`
	LiveCSS bool   `json:"liveCSS"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps track of the connected browsers and broadcasts reload messages to them
type Hub struct {
	dist     string
	upgrader websocket.Upgrader

	lock    sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub for the output directory dist
func NewHub(dist string) *Hub {
	return &Hub{
		dist:    dist,
		clients: map[*client]struct{}{},
	}
}

// Clients returns the number of connected browsers
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends msg to every client. Clients that can't keep up are dropped.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// urlPath turns an output file into the path the browser requested it with
func (h *Hub) urlPath(file string) (string, bool) {
	if !filepath.IsAbs(file) {
		return "/" + strings.TrimPrefix(filepath.ToSlash(file), "/"), true
	}

	rel, err := filepath.Rel(h.dist, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	return "/" + filepath.ToSlash(rel), true
}

// Reload tells the browsers about changed output files. If only stylesheets changed, they're swapped in place,
// anything else reloads the page.
func (h *Hub) Reload(files ...string) {
	urls := make([]string, 0, len(files))
	onlyCSS := true
	for _, file := range files {
		url, ok := h.urlPath(file)
		if !ok {
			continue
		}

		urls = append(urls, url)
		if !strings.EqualFold(filepath.Ext(file), ".css") {
			onlyCSS = false
		}
	}

	if len(urls) == 0 {
		return
	}

	if onlyCSS {
		for _, url := range urls {
			h.Broadcast(Message{Command: "reload", Path: url, LiveCSS: true})
		}
		return
	}

	h.Broadcast(Message{Command: "reload", Path: urls[0]})
}

// ServeHTTP upgrades the request to a websocket and keeps it registered until the browser disconnects
func (h *Hub) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := sblog.Log(r.Context())

	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to upgrade live reload connection")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.add(c)
	logger.Debug().Msg("browser connected")

	go h.writePump(c)
	h.readPump(c)
	logger.Debug().Msg("browser disconnected")
}

// readPump discards incoming messages, it only exists to notice closed connections
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects all browsers
func (h *Hub) Close(ctx context.Context) {
	h.lock.Lock()
	defer h.lock.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	sblog.Log(ctx).Debug().Msg("closed live reload connections")
}
