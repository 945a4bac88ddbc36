package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cipherchat/internal/config"
	"cipherchat/internal/logging"
	"cipherchat/internal/metrics"
)

// Hub builds a Client and Session for every upgraded connection and runs
// them until the connection ends.
type Hub struct {
	presence Presence
	store    Store
	notifier Notifier
	cfg      config.WS
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
}

func NewHub(p Presence, store Store, notifier Notifier, cfg config.WS, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		presence: p,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		metrics:  m,
		logger:   logging.OrNop(logger).Named("ws"),
		clients:  make(map[*Client]struct{}),
	}
}

// Serve blocks until conn is closed. callerID is the userId the HTTP auth
// layer attached to the upgrade request.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, callerID string) {
	client := NewClient(conn, h.cfg.SendBuffer, h.cfg.WriteWait, h.cfg.PongWait, h.cfg.PingPeriod, h.cfg.MaxFrameSize)
	if !h.track(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.cfg.WriteWait))
		_ = conn.Close()
		return
	}
	defer h.untrack(client)

	session := NewSession(client, callerID, h.store, h.notifier, h.presence, h.metrics, h.logger)

	h.logger.Debug("connection opened", zap.String("conn", client.ID()), zap.String("caller", callerID))

	go client.WritePump()

	// Frames are handled on the read goroutine, so a slow store call delays
	// only this connection.
	err := client.ReadPump(func(raw []byte) {
		session.HandleFrame(ctx, raw)
	})
	if err != nil {
		h.logger.Debug("connection read failed", zap.String("conn", client.ID()), zap.Error(err))
	}

	session.Close()
	client.Close()
}

func (h *Hub) track(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) untrack(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.wg.Done()
}

// Len returns the number of connections being served.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connection, authenticated or not, refuses new ones,
// and waits until all Serve calls have returned, including frames still
// being handled.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for c := range h.clients {
		c.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}
	h.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
