package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Client is one student connection. Writes go through a buffered channel
// drained by WritePump, so timer ticks never block on a slow socket.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	attemptID uuid.UUID
	log       zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, attemptID uuid.UUID, log zerolog.Logger) *Client {
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &Client{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		attemptID: attemptID,
		log:       log,
		done:      make(chan struct{}),
	}
}

// AttemptID is the attempt this connection streams.
func (c *Client) AttemptID() uuid.UUID { return c.attemptID }

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send queues an event. It reports false if the client is closed or its
// buffer is full; a full buffer closes the client.
func (c *Client) Send(event Event, data any) bool {
	raw, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		c.log.Error().Err(err).Str("event", string(event)).Msg("Failed to encode event")
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- raw:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Msg("Client send buffer full, closing connection")
		c.Close()
		return false
	}
}

// SendError queues an error event.
func (c *Client) SendError(code, message string) bool {
	return c.Send(EventError, ErrorData{Code: code, Message: message})
}

// ReadJSON reads the next client message, extending the read deadline.
func (c *Client) ReadJSON(v any) error {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	return c.conn.ReadJSON(v)
}

// WritePump drains the send queue and keeps the connection alive with
// pings. It returns when the client is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("Write failed")
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

// Close stops the write pump. The connection itself is closed by the
// handler that owns it.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
