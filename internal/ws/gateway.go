// Package ws implements the real-time fan-out layer: the WebSocket gateway
// that authenticates connections, the registry of live sockets, the room
// membership index, and the dispatcher that multicasts domain events to
// interested connections.
package ws

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/quartier/community-app/internal/auth"
	"github.com/quartier/community-app/internal/metrics"
	"github.com/quartier/community-app/internal/protocol"
)

// GatewayConfig holds tunable parameters for the WebSocket gateway.
type GatewayConfig struct {
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // deadline applied to outbound frames
}

// DefaultGatewayConfig returns production defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MaxConnections: 100000,
		WriteTimeout:   10 * time.Second,
	}
}

// Gateway upgrades HTTP requests to WebSocket connections, authenticates them
// with a signed bearer token from the query string, and manages their
// lifecycle: register on join, join eligible rooms, evict on close. Each
// accepted connection gets a dedicated read goroutine.
//
// Per-connection state machine: Connecting -> Authenticating -> Joined ->
// Closed. A connection that fails authentication goes straight to Closed with
// a policy-violation close code and never touches the registry or the room
// index.
type Gateway struct {
	config    GatewayConfig
	tokens    *auth.Manager
	directory Directory
	registry  *Registry
	rooms     *Rooms
	done      chan struct{}
}

// Directory resolves a verified subject to its current memberships and
// roles. A nil Directory makes the gateway trust the claims baked into the
// token; the production wiring resolves against the user store so that an
// unknown or deleted subject is rejected and memberships are fresh.
type Directory interface {
	Resolve(ctx context.Context, userID string) (auth.Identity, error)
}

// NewGateway creates a Gateway over the given token manager, directory,
// registry, and room index.
func NewGateway(config GatewayConfig, tokens *auth.Manager, directory Directory, registry *Registry, rooms *Rooms) *Gateway {
	return &Gateway{
		config:    config,
		tokens:    tokens,
		directory: directory,
		registry:  registry,
		rooms:     rooms,
		done:      make(chan struct{}),
	}
}

// Registry returns the live connection set, for metrics and heartbeat use.
func (g *Gateway) Registry() *Registry { return g.registry }

// Rooms returns the room membership index.
func (g *Gateway) Rooms() *Rooms { return g.rooms }

// ServeHTTP handles the WebSocket upgrade endpoint.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.registry.Count() >= g.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	token := r.URL.Query().Get("token")

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	conn := &Connection{
		ID:           uuid.New().String(),
		Conn:         netConn,
		CreatedAt:    time.Now(),
		WriteTimeout: g.config.WriteTimeout,
	}
	conn.Touch()

	// Authenticating: a missing, expired, or forged token closes the
	// connection before any registry or room mutation happens.
	identity, err := g.authenticate(r.Context(), token)
	if err != nil {
		log.Printf("ws: authentication failed conn=%s: %v", conn.ID, err)
		_ = conn.WriteClose(ws.StatusPolicyViolation, "authentication failed")
		return
	}

	conn.UserID = identity.UserID
	conn.Roles = identity.Roles

	// Joined: register, join all eligible rooms, acknowledge.
	g.registry.Register(conn)
	for _, communityID := range identity.CommunityIDs {
		g.rooms.Join(identity.UserID, CommunityRoom(communityID))
	}
	g.rooms.Join(identity.UserID, UserRoom(identity.UserID))

	metrics.ConnectionsTotal.Inc()
	log.Printf("ws: client connected user=%s conn=%s (total=%d)",
		identity.UserID, conn.ID, g.registry.Count())

	if ack, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedPayload{
		UserID: identity.UserID,
	}); err == nil {
		if err := conn.WriteMessage(ack); err != nil {
			log.Printf("ws: failed to send connected ack user=%s: %v", identity.UserID, err)
		}
	}

	go g.readLoop(conn)
}

// authenticate verifies the bearer token and resolves the subject identity.
func (g *Gateway) authenticate(ctx context.Context, token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	identity, err := g.tokens.Verify(token)
	if err != nil {
		return auth.Identity{}, err
	}
	if g.directory == nil {
		return identity, nil
	}
	return g.directory.Resolve(ctx, identity.UserID)
}

// readLoop reads frames from one connection until it closes or errors.
// Control frames are handled here in the loop rather than by a wsutil
// auto-handler: a pong reply to a heartbeat ping must refresh liveness like
// any other frame, and ping replies must go through the guarded writer.
func (g *Gateway) readLoop(conn *Connection) {
	defer g.closeConnection(conn)

	for {
		select {
		case <-g.done:
			return
		default:
		}

		header, reader, err := wsutil.NextReader(conn.Conn, ws.StateServerSide)
		if err != nil {
			if err != io.EOF {
				log.Printf("ws: read error user=%s conn=%s: %v", conn.UserID, conn.ID, err)
			}
			return
		}

		// Any frame proves the connection is alive, pongs included.
		conn.Touch()

		if header.OpCode.IsControl() {
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				// NextReader already discarded the ping payload, so the
				// reply is empty.
				if err := conn.WritePong(nil); err != nil {
					return
				}
			}
			// Pong: nothing to do beyond the Touch above.
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}

		if header.OpCode != ws.OpText || len(data) == 0 {
			continue
		}
		g.handleMessage(conn, data)
	}
}

// handleMessage processes one inbound application frame. The only supported
// client message is a liveness ping; unrecognized types are logged and
// ignored, never fatal.
func (g *Gateway) handleMessage(conn *Connection, data []byte) {
	env, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: message parse error user=%s: %v", conn.UserID, err)
		return
	}

	switch env.Type {
	case protocol.TypePing:
		pong, err := protocol.NewServerMessage(protocol.TypePong, nil)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(pong); err != nil {
			log.Printf("ws: failed to send pong user=%s: %v", conn.UserID, err)
		}
	default:
		log.Printf("ws: unknown message type=%q user=%s", env.Type, conn.UserID)
	}
}

// closeConnection transitions a connection to Closed: it is removed from the
// registry, and if it was the user's last live connection the user leaves all
// rooms. Safe to call from concurrent paths; only the first caller wins.
func (g *Gateway) closeConnection(conn *Connection) {
	found, last := g.registry.Unregister(conn)
	if !found {
		return
	}
	if last {
		g.rooms.LeaveAll(conn.UserID)
	}

	metrics.ConnectionsTotal.Dec()
	log.Printf("ws: client disconnected user=%s conn=%s last=%v (total=%d)",
		conn.UserID, conn.ID, last, g.registry.Count())
}

// CloseConnection evicts a connection. Exported for the heartbeat monitor.
func (g *Gateway) CloseConnection(conn *Connection) {
	g.closeConnection(conn)
}

// Shutdown closes every live connection and stops background read loops.
func (g *Gateway) Shutdown() {
	close(g.done)
	for _, conn := range g.registry.All() {
		g.closeConnection(conn)
	}
	log.Printf("ws: gateway stopped, all connections closed")
}
