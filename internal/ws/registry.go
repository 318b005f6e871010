package ws

import (
	"log"
	"sync"
)

// Registry is the authoritative set of live, authenticated connections,
// indexed by user ID. A user entry holds every simultaneous connection for
// that user and is dropped entirely (not merely emptied) when the last one
// goes away, so the map never grows beyond the set of currently connected
// users.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Connection // user_id -> conn_id -> Connection
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]*Connection),
	}
}

// Register adds a connection under its user ID. Registering the same
// connection twice is harmless.
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	conns, ok := r.byUser[conn.UserID]
	if !ok {
		conns = make(map[string]*Connection)
		r.byUser[conn.UserID] = conns
	}
	conns[conn.ID] = conn
	r.mu.Unlock()
}

// Unregister removes a connection and closes it. It returns two flags: found
// reports whether the connection was still registered (guards against double
// cleanup when a read error and a heartbeat eviction race), and last reports
// whether this was the user's final connection, in which case the caller
// should evict the user from all rooms.
func (r *Registry) Unregister(conn *Connection) (found, last bool) {
	r.mu.Lock()
	conns, ok := r.byUser[conn.UserID]
	if ok {
		if _, found = conns[conn.ID]; found {
			delete(conns, conn.ID)
			if len(conns) == 0 {
				delete(r.byUser, conn.UserID)
				last = true
			}
		}
	}
	r.mu.Unlock()

	if found {
		conn.Close()
	}
	return found, last
}

// Send writes a message to every live connection for the given user. It is a
// silent no-op when the user has no connection; delivery to offline users is
// the notification store's job, not the registry's. A failed write marks that
// one socket dead and unregisters it without affecting the user's other
// connections. The returned slice lists users whose final connection died
// during the send, so the caller can clear their room memberships.
func (r *Registry) Send(userID string, data []byte) []string {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	var evicted []string
	for _, c := range conns {
		if err := c.WriteMessage(data); err != nil {
			log.Printf("ws: write failed user=%s conn=%s: %v", userID, c.ID, err)
			if found, lastConn := r.Unregister(c); found && lastConn {
				evicted = append(evicted, userID)
			}
		}
	}
	return evicted
}

// ConnectionsOf returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsOf(userID string) []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	return conns
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0)
	for _, userConns := range r.byUser {
		for _, c := range userConns {
			conns = append(conns, c)
		}
	}
	r.mu.RUnlock()
	return conns
}

// Users returns the IDs of all users with at least one live connection.
func (r *Registry) Users() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	r.mu.RUnlock()
	return users
}

// UsersWithRole returns the IDs of connected users holding any of the given
// roles. Used to target moderation events at connected moderators and admins.
func (r *Registry) UsersWithRole(roles ...string) []string {
	r.mu.RLock()
	users := make([]string, 0)
	for id, conns := range r.byUser {
		for _, c := range conns {
			if hasAnyRole(c.Roles, roles) {
				users = append(users, id)
			}
			break // roles are identical across a user's connections
		}
	}
	r.mu.RUnlock()
	return users
}

func hasAnyRole(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// Count returns the total number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := 0
	for _, conns := range r.byUser {
		n += len(conns)
	}
	r.mu.RUnlock()
	return n
}
