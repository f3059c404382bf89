package realtime

import (
	"errors"
	"sync"
	"time"

	"support-chat/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrBufferExceeded   = errors.New("connection buffer exceeded")
)

// Connection wraps a websocket and coordinates outbound writes via a buffered channel.
// Only the write loop touches the socket for writing.
type Connection struct {
	id    string
	ident models.Identity

	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

// NewConnection constructs a Connection for the verified identity.
func NewConnection(ident models.Identity, ws *websocket.Conn) *Connection {
	return &Connection{
		id:     uuid.NewString(),
		ident:  ident,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

func (c *Connection) ID() string                { return c.id }
func (c *Connection) Identity() models.Identity { return c.ident }

// Done is closed once the connection shuts down.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// Start launches the write loop pinging every pingInterval. It must be called exactly once.
func (c *Connection) Start(pingInterval time.Duration) {
	go c.writeLoop(pingInterval)
}

// Send enqueues payload for delivery. If the client is slow and the buffer is full,
// the connection is closed to keep backpressure bounded.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-c.closed:
		return ErrConnectionClosed
	case c.send <- payload:
		return nil
	default:
		go c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrBufferExceeded
	}
}

// Close terminates the connection and stops the write loop.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *Connection) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
