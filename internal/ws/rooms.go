package ws

import "sync"

// Room key namespaces. A room is a logical broadcast scope; it exists only
// while at least one user is joined.
const (
	RoomPrefixCommunity = "community:"
	RoomPrefixUser      = "user:"
	RoomPrefixPost      = "post:"
)

// CommunityRoom returns the room key for a community's broadcast scope.
func CommunityRoom(communityID string) string { return RoomPrefixCommunity + communityID }

// UserRoom returns the personal room key for a user.
func UserRoom(userID string) string { return RoomPrefixUser + userID }

// PostRoom returns the room key for a post's comment thread.
func PostRoom(postID string) string { return RoomPrefixPost + postID }

// Rooms maps room keys to the set of member user IDs. Membership is keyed by
// logical user, not by physical connection: a user joined from two tabs holds
// one membership entry, and closing one tab must not evict them while the
// other remains. The gateway enforces that by calling LeaveAll only when the
// Registry confirms the last connection is gone.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // room key -> set of user IDs
}

// NewRooms creates an empty membership index.
func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]struct{}),
	}
}

// Join adds a user to a room. Idempotent.
func (r *Rooms) Join(userID, roomKey string) {
	r.mu.Lock()
	set, ok := r.members[roomKey]
	if !ok {
		set = make(map[string]struct{})
		r.members[roomKey] = set
	}
	set[userID] = struct{}{}
	r.mu.Unlock()
}

// Leave removes a user from a room. Idempotent. The room entry itself is
// deleted when its last member leaves so the index never accumulates empty
// rooms.
func (r *Rooms) Leave(userID, roomKey string) {
	r.mu.Lock()
	if set, ok := r.members[roomKey]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(r.members, roomKey)
		}
	}
	r.mu.Unlock()
}

// LeaveAll removes a user from every room they belong to. Called on full
// disconnect, after the user's last connection has closed.
func (r *Rooms) LeaveAll(userID string) {
	r.mu.Lock()
	for roomKey, set := range r.members {
		delete(set, userID)
		if len(set) == 0 {
			delete(r.members, roomKey)
		}
	}
	r.mu.Unlock()
}

// MembersOf returns a snapshot of the user IDs currently in a room. The
// result may be empty.
func (r *Rooms) MembersOf(roomKey string) []string {
	r.mu.RLock()
	set := r.members[roomKey]
	users := make([]string, 0, len(set))
	for id := range set {
		users = append(users, id)
	}
	r.mu.RUnlock()
	return users
}

// RoomCount returns the number of rooms with at least one member.
func (r *Rooms) RoomCount() int {
	r.mu.RLock()
	n := len(r.members)
	r.mu.RUnlock()
	return n
}
