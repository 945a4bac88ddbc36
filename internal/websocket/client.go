package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client owns one gorilla connection and its outbound queue. It satisfies
// presence.Conn.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
	maxFrame   int64

	closeOnce sync.Once
	done      chan struct{}
	closeMsg  []byte
}

func NewClient(conn *websocket.Conn, sendBuffer int, writeWait, pongWait, pingPeriod time.Duration, maxFrame int64) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		writeWait:  writeWait,
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
		maxFrame:   maxFrame,
		done:       make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues data without blocking. It returns false when the client is
// closed or its queue is full.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith stops the client and makes the write pump send a close frame
// with the given code. Only the first call has an effect.
func (c *Client) CloseWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, text)
		close(c.done)
	})
}

// Done is closed once the client is closing.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadPump delivers inbound text frames to handle until the connection
// fails or the peer goes quiet past the pong deadline.
func (c *Client) ReadPump(handle func([]byte)) error {
	c.conn.SetReadLimit(c.maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return err
			}
			return nil
		}
		handle(message)
	}
}

// WritePump drains the send queue and keeps the connection alive with
// pings. It closes the connection on return.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(c.writeWait))
			return
		}
	}
}
