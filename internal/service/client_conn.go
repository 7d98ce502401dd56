package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annelo/go-planet-server/internal/protocol"
)

const writeTimeout = 5 * time.Second

// clientConn represents a renderer connection with priority queues for messaging.
type clientConn struct {
	viewerID    string
	conn        *websocket.Conn
	highQueue   chan interface{} // Zone changes, errors, shutdown
	normalQueue chan interface{} // Chunk and progress events
	done        chan struct{}
	closeOnce   sync.Once
}

func newClientConn(viewerID string, conn *websocket.Conn) *clientConn {
	return &clientConn{
		viewerID:    viewerID,
		conn:        conn,
		highQueue:   make(chan interface{}, sendQueueSize),
		normalQueue: make(chan interface{}, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// send enqueues a message into the appropriate queue. If block is true, it blocks until the message is enqueued; otherwise it drops on overflow.
func (c *clientConn) send(msg interface{}, block bool) {
	var q chan interface{}
	switch msg.(type) {
	case *protocol.ZoneChangedMsg, *protocol.ErrorMsg, *protocol.ServerShutdownMsg, *protocol.WelcomeMsg:
		q = c.highQueue
	default:
		q = c.normalQueue
	}
	if block {
		select {
		case q <- msg:
		case <-c.done:
		}
	} else {
		select {
		case q <- msg:
		default:
		}
	}
}

// writeLoop drains the queues into the websocket, high priority first.
// It is the only writer of the connection and closes it on exit.
func (c *clientConn) writeLoop() {
	defer c.conn.Close()
	for {
		var msg interface{}
		select {
		case <-c.done:
			c.drainHigh()
			return
		case msg = <-c.highQueue:
		default:
			select {
			case <-c.done:
				c.drainHigh()
				return
			case msg = <-c.highQueue:
			case msg = <-c.normalQueue:
			}
		}
		if err := c.writeJSON(msg); err != nil {
			return
		}
	}
}

// drainHigh flushes pending high-priority messages (shutdown notice) before exit.
func (c *clientConn) drainHigh() {
	for {
		select {
		case msg := <-c.highQueue:
			if err := c.writeJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *clientConn) writeJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// close signals the write loop to exit; the loop closes the connection
// after flushing high-priority messages. Idempotent.
func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
