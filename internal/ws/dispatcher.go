package ws

import (
	"log"

	"github.com/quartier/community-app/internal/metrics"
	"github.com/quartier/community-app/internal/protocol"
)

// Dispatcher projects domain events onto rooms and users. Delivery is
// best-effort to currently connected sockets only: no retry, no buffering.
// Dispatch runs synchronously inside the mutation that triggered it, so
// messages from one causal chain reach each socket in dispatch order.
type Dispatcher struct {
	registry *Registry
	rooms    *Rooms
}

// NewDispatcher creates a Dispatcher over the given registry and room index.
func NewDispatcher(registry *Registry, rooms *Rooms) *Dispatcher {
	return &Dispatcher{registry: registry, rooms: rooms}
}

// ToUser serializes the payload and delivers it to every live connection of
// one user. No-op when the user is offline. The dispatch attempt is counted
// either way, same as ToRoom, so the metric is comparable across event types.
func (d *Dispatcher) ToUser(userID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("ws: build %s message for user=%s: %v", msgType, userID, err)
		return
	}
	metrics.EventsDispatched.WithLabelValues(msgType).Inc()
	d.deliver(userID, data)
}

// ToRoom delivers the payload to every current member of a room, optionally
// skipping the originating actor so authors don't receive an echo of their
// own mutation. Pass an empty excludeUserID to deliver to everyone. The
// dispatch attempt is counted even when the room is empty.
func (d *Dispatcher) ToRoom(roomKey, msgType string, payload interface{}, excludeUserID string) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("ws: build %s message for room=%s: %v", msgType, roomKey, err)
		return
	}
	metrics.EventsDispatched.WithLabelValues(msgType).Inc()

	for _, userID := range d.rooms.MembersOf(roomKey) {
		if userID == excludeUserID {
			continue
		}
		d.deliver(userID, data)
	}
}

// deliver writes pre-serialized bytes to a user's connections and clears room
// membership for any user whose final connection died mid-write.
func (d *Dispatcher) deliver(userID string, data []byte) {
	for _, gone := range d.registry.Send(userID, data) {
		d.rooms.LeaveAll(gone)
	}
}

// EmitPostCreated announces a new post to its community room, excluding the
// author.
func (d *Dispatcher) EmitPostCreated(communityID, authorID string, post interface{}) {
	d.ToRoom(CommunityRoom(communityID), protocol.TypePostCreated, post, authorID)
}

// EmitCommentCreated announces a new comment to the post's thread room,
// excluding the author.
func (d *Dispatcher) EmitCommentCreated(postID, authorID string, comment interface{}) {
	d.ToRoom(PostRoom(postID), protocol.TypeCommentCreated, comment, authorID)
}

// EmitPollTally broadcasts a recomputed tally to the poll's community room.
// Nobody is excluded: the voter sees the same tally as everyone else.
func (d *Dispatcher) EmitPollTally(communityID string, tally protocol.PollTallyPayload) {
	d.ToRoom(CommunityRoom(communityID), protocol.TypePollTally, tally, "")
}

// EmitReportOpened notifies connected moderators that a report was filed.
// The caller supplies the moderator user IDs; the dispatcher has no role
// knowledge of its own.
func (d *Dispatcher) EmitReportOpened(moderatorIDs []string, report interface{}) {
	for _, userID := range moderatorIDs {
		d.ToUser(userID, protocol.TypeReportOpened, report)
	}
}

// EmitNotification delivers a personal notification to one user.
func (d *Dispatcher) EmitNotification(userID string, notification interface{}) {
	d.ToUser(userID, protocol.TypeNotification, notification)
}
