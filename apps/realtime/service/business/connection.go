package business

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/util"
)

// defaultDispatchBuffer is the per-connection outbound queue depth. A full
// queue counts as a failed send so one slow socket never stalls fan-out.
const defaultDispatchBuffer = 64

// Connection is a single live transport link from one client device.
//
// The user identifier is bound exactly once by the AuthGate before the
// connection is registered and is immutable afterwards. All outbound traffic
// flows through a buffered dispatch channel drained by a dedicated writer
// goroutine, so senders never block on the underlying socket.
type Connection struct {
	id       string
	userID   string
	openedAt time.Time

	stream ClientStream

	// alive is cleared before each heartbeat probe and restored by any
	// inbound traffic. A connection found cleared at sweep time missed a
	// full interval and is reaped.
	alive atomic.Bool

	dispatchCh chan *ServerFrame
	done       chan struct{}
	closeOnce  sync.Once
}

// NewConnection wraps a transport stream in an unauthenticated connection.
func NewConnection(stream ClientStream) *Connection {
	conn := &Connection{
		id:         util.IDString(),
		openedAt:   time.Now(),
		stream:     stream,
		dispatchCh: make(chan *ServerFrame, defaultDispatchBuffer),
		done:       make(chan struct{}),
	}
	conn.alive.Store(true)
	return conn
}

// ID returns the opaque connection handle.
func (c *Connection) ID() string { return c.id }

// UserID returns the bound user identifier, empty until authenticated.
func (c *Connection) UserID() string { return c.userID }

// OpenedAt returns the transport connect time.
func (c *Connection) OpenedAt() time.Time { return c.openedAt }

// bindUser sets the immutable user identifier. Called once by the AuthGate
// before the connection is published to the registry.
func (c *Connection) bindUser(userID string) { c.userID = userID }

// MarkAlive restores the liveness flag. Called for every inbound frame.
func (c *Connection) MarkAlive() { c.alive.Store(true) }

// ClearAlive clears the liveness flag and reports whether it was set.
func (c *Connection) ClearAlive() bool { return c.alive.Swap(false) }

// Alive reports the current liveness flag.
func (c *Connection) Alive() bool { return c.alive.Load() }

// Dispatch enqueues a frame for delivery without blocking. It reports false
// when the connection is closed or the queue is full, which callers treat as
// a failed send for this connection only.
func (c *Connection) Dispatch(frame *ServerFrame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.dispatchCh <- frame:
		return true
	default:
		return false
	}
}

// writeLoop drains the dispatch queue onto the transport. It owns all writes
// to the stream and exits on the first send failure or on Close.
func (c *Connection) writeLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case frame := <-c.dispatchCh:
			if err := c.stream.Send(frame); err != nil {
				util.Log(ctx).WithError(err).WithFields(map[string]any{
					"connection_id": c.id,
					"user_id":       c.userID,
					"frame_type":    frame.Type,
					"error_type":    "outbound.send.error",
				}).Debug("outbound send failed, closing connection")
				c.Close()
				return
			}
		}
	}
}

// Close tears the connection down exactly once. The transport close unblocks
// the read loop, whose cleanup path performs registry deregistration.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.stream.Close()
	})
}

// Done is closed when the connection has been torn down.
func (c *Connection) Done() <-chan struct{} { return c.done }
