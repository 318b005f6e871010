package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection. A user may hold
// several at once (multiple tabs or devices), so the connection carries its
// own ID distinct from the user ID. The write mutex serializes outbound
// frames so concurrent broadcasts never interleave bytes on the wire.
type Connection struct {
	ID           string   // connection ID (UUID), unique per socket
	UserID       string   // authenticated user this socket belongs to
	Roles        []string // roles carried by the user's credential
	Conn         net.Conn
	CreatedAt    time.Time
	WriteTimeout time.Duration // per-frame write deadline, 0 disables
	writeMu      sync.Mutex
	lastSeen     atomic.Int64 // unix nano of the most recent inbound frame
}

// WriteMessage sends a WebSocket text frame to this connection.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
		defer func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }()
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9). Browsers answer
// these automatically with a pong, which counts as liveness.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// WritePong answers a client's protocol-level ping. The reply goes through
// the same write mutex as broadcasts so a pong can never land inside a
// half-written text frame.
func (c *Connection) WritePong(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPongFrame(payload))
}

// WriteClose sends a close frame with the given status code and reason, then
// closes the underlying connection. Used by the gateway to reject
// unauthenticated upgrades with a policy-violation code.
func (c *Connection) WriteClose(code ws.StatusCode, reason string) error {
	c.writeMu.Lock()
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason))
	err := ws.WriteFrame(c.Conn, frame)
	c.writeMu.Unlock()
	if cerr := c.Conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Touch records inbound activity for heartbeat staleness checks.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the most recent inbound frame.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}
