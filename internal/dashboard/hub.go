package dashboard

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"mdfeed/internal/feed"
	"mdfeed/logger"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type wsClient struct {
	send chan feed.Event
}

// eventHub keeps the most recent integrity events and fans new ones out to
// websocket clients. A client that cannot keep up is disconnected.
type eventHub struct {
	history *ring[feed.Event]

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	log     *logger.Log
}

func newEventHub(limit int, log *logger.Log) *eventHub {
	return &eventHub{
		history: newRing[feed.Event](limit),
		clients: make(map[*wsClient]struct{}),
		log:     log,
	}
}

// publish runs on the feed consumer goroutine and never blocks.
func (h *eventHub) publish(ev feed.Event) {
	h.history.add(ev)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *eventHub) recent() []feed.Event {
	return h.history.snapshot()
}

func (h *eventHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *eventHub) register() *wsClient {
	c := &wsClient{send: make(chan feed.Event, wsSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *eventHub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *eventHub) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithComponent("dashboard").WithError(err).Debug("websocket upgrade failed")
		return
	}
	client := h.register()
	log := h.log.WithComponent("dashboard").WithFields(logger.Fields{"remote": conn.RemoteAddr().String()})
	log.Debug("websocket client connected")

	// Reader only detects the close frame.
	go func() {
		defer h.unregister(client)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		log.Debug("websocket client disconnected")
	}()

	for {
		select {
		case ev, ok := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
