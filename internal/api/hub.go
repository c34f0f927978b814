package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go-config-runner/internal/events"
	"go-config-runner/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientBuffer   = 256
	maxClientFrame = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins
}

// Hub streams bus events to websocket clients. Each client gets its own
// subscription, so a slow client only loses its own events.
type Hub struct {
	bus *events.Bus
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]context.CancelFunc
	wg      sync.WaitGroup
}

func NewHub(bus *events.Bus) *Hub {
	return &Hub{
		bus:     bus,
		log:     logger.WithComponent("ws"),
		clients: make(map[*websocket.Conn]context.CancelFunc),
	}
}

// ServeWs upgrades the request. ?job=<id> limits the stream to one job.
func (h *Hub) ServeWs(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upgrade websocket")
		return nil
	}
	jobID := c.QueryParam("job")

	// Subscribe before returning so no event published after the upgrade is missed.
	sub, unsubscribe := h.bus.Subscribe(clientBuffer)
	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.clients[conn] = cancel
	h.mu.Unlock()
	h.log.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered")

	h.wg.Add(2)
	go h.writePump(ctx, conn, jobID, sub, unsubscribe)
	go h.readPump(conn, cancel)
	return nil
}

// readPump only detects the client going away.
func (h *Hub) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer h.wg.Done()
	defer cancel()

	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Msg("Unexpected websocket close error")
			}
			return
		}
	}
}

func (h *Hub) writePump(ctx context.Context, conn *websocket.Conn, jobID string, sub <-chan events.Event, unsubscribe func()) {
	defer h.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		h.log.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered")
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if jobID != "" && e.JobID != jobID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				h.log.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their pumps to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	for conn, cancel := range h.clients {
		cancel()
		// unblocks the read pump
		_ = conn.SetReadDeadline(time.Now())
	}
	h.mu.Unlock()
	h.wg.Wait()
}
