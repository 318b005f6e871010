package ws

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/quartier/community-app/internal/metrics"
	"github.com/quartier/community-app/internal/protocol"
)

func newTestDispatcher() (*Dispatcher, *Registry, *Rooms) {
	registry := NewRegistry()
	rooms := NewRooms()
	return NewDispatcher(registry, rooms), registry, rooms
}

func TestDispatcherToUser(t *testing.T) {
	d, registry, _ := newTestDispatcher()

	c, client := newTestConn("u1", "conn-1")
	registry.Register(c)
	ch := drainText(client)

	d.ToUser("u1", protocol.TypeNotification, map[string]string{"title": "hello"})

	var env protocol.Envelope
	if err := json.Unmarshal([]byte(expectMessage(t, ch)), &env); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	if env.Type != protocol.TypeNotification {
		t.Errorf("expected type %q, got %q", protocol.TypeNotification, env.Type)
	}
}

func TestDispatcherNoSelfEcho(t *testing.T) {
	d, registry, rooms := newTestDispatcher()

	author, authorClient := newTestConn("author", "conn-a")
	reader, readerClient := newTestConn("reader", "conn-r")
	registry.Register(author)
	registry.Register(reader)
	rooms.Join("author", PostRoom("p1"))
	rooms.Join("reader", PostRoom("p1"))

	authorCh := drainText(authorClient)
	readerCh := drainText(readerClient)

	d.EmitCommentCreated("p1", "author", map[string]string{"body": "hi"})

	var env protocol.Envelope
	if err := json.Unmarshal([]byte(expectMessage(t, readerCh)), &env); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	if env.Type != protocol.TypeCommentCreated {
		t.Errorf("expected type %q, got %q", protocol.TypeCommentCreated, env.Type)
	}

	expectNoMessage(t, authorCh)
}

func TestDispatcherRoomWithoutMembers(t *testing.T) {
	d, _, _ := newTestDispatcher()
	// Must not panic or block.
	d.ToRoom(CommunityRoom("empty"), protocol.TypePostCreated, map[string]string{}, "")
}

func TestDispatcherCountsDispatchAttempts(t *testing.T) {
	d, _, _ := newTestDispatcher()
	counter := metrics.EventsDispatched.WithLabelValues(protocol.TypeReportOpened)
	before := testutil.ToFloat64(counter)

	// An empty room and an offline user both count as dispatch attempts, so
	// the metric means the same thing for every event type.
	d.ToRoom(CommunityRoom("nobody-here"), protocol.TypeReportOpened, map[string]string{}, "")
	d.ToUser("offline-user", protocol.TypeReportOpened, map[string]string{})

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Fatalf("expected 2 dispatch attempts counted, got %v", got)
	}
}

func TestDispatcherCausalOrderPerSocket(t *testing.T) {
	d, registry, rooms := newTestDispatcher()

	c, client := newTestConn("u1", "conn-1")
	registry.Register(c)
	rooms.Join("u1", CommunityRoom("c1"))
	ch := drainText(client)

	// Same causal chain: a vote mutation dispatches the tally after the post
	// event. Per-socket order must match dispatch order.
	d.ToRoom(CommunityRoom("c1"), protocol.TypePostCreated, map[string]string{"id": "p1"}, "")
	d.EmitPollTally("c1", protocol.PollTallyPayload{PostID: "p1", Tally: map[string]int{"0": 1}, TotalVotes: 1})

	var first, second protocol.Envelope
	if err := json.Unmarshal([]byte(expectMessage(t, ch)), &first); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	if err := json.Unmarshal([]byte(expectMessage(t, ch)), &second); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}

	if first.Type != protocol.TypePostCreated || second.Type != protocol.TypePollTally {
		t.Errorf("expected [post.created, poll.tally], got [%s, %s]", first.Type, second.Type)
	}
}

func TestDispatcherDeadMemberCleanedUp(t *testing.T) {
	d, registry, rooms := newTestDispatcher()

	c, client := newTestConn("u1", "conn-1")
	registry.Register(c)
	rooms.Join("u1", CommunityRoom("c1"))

	client.Close()
	d.ToRoom(CommunityRoom("c1"), protocol.TypePostCreated, map[string]string{}, "")

	if registry.Count() != 0 {
		t.Errorf("expected dead connection unregistered, count=%d", registry.Count())
	}
	if got := rooms.MembersOf(CommunityRoom("c1")); len(got) != 0 {
		t.Errorf("expected room membership cleared, got %v", got)
	}
}
