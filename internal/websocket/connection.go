package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

// Connection defaults.
const (
	DefaultBufferSize   = 100
	DefaultWriteTimeout = 5 * time.Second
)

var _ interfaces.Connection = (*Connection)(nil)

// Connection wraps an authenticated gorilla connection.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions.
// Every frame goes through one writer goroutine fed by a buffered channel.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	claims       types.Claims
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	writerDone   chan struct{}
	closeOnce    sync.Once
}

// NewConnection starts the writer for an upgraded connection owned by claims.ID.
func NewConnection(conn *websocket.Conn, claims types.Claims, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		claims:       claims,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		writerDone:   make(chan struct{}),
	}

	go c.writeLoop()
	return c
}

// writeLoop is the only goroutine writing data frames. Frames queued before
// Close are still written; a failed write closes the connection so the read
// loop observes the failure too.
func (c *Connection) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				go c.Close()
				return
			}
		case <-c.ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Connection) drain() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Send queues v as a JSON text frame.
func (c *Connection) Send(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops accepting frames, lets the writer flush what is queued, then
// closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		select {
		case <-c.writerDone:
		case <-time.After(c.writeTimeout):
		}
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}
	})
	return err
}

// Connected reports whether Close has not been called.
func (c *Connection) Connected() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// UserID returns the authenticated user's ID.
func (c *Connection) UserID() string {
	return c.claims.ID
}

// Claims returns the identity the connection authenticated with.
func (c *Connection) Claims() types.Claims {
	return c.claims
}

// Done is closed when the connection closes.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
