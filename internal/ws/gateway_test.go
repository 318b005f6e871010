package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/quartier/community-app/internal/auth"
	"github.com/quartier/community-app/internal/protocol"
)

// staticDirectory resolves every subject to a fixed identity, or fails for
// subjects not in the map, standing in for the user store.
type staticDirectory struct {
	identities map[string]auth.Identity
}

func (d *staticDirectory) Resolve(_ context.Context, userID string) (auth.Identity, error) {
	identity, ok := d.identities[userID]
	if !ok {
		return auth.Identity{}, errors.New("unknown user")
	}
	return identity, nil
}

func newTestGateway(t *testing.T, directory Directory) (*Gateway, *auth.Manager, *httptest.Server) {
	t.Helper()

	tokens, err := auth.NewManager("gateway-test-secret-0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	gateway := NewGateway(DefaultGatewayConfig(), tokens, directory, NewRegistry(), NewRooms())
	srv := httptest.NewServer(gateway)
	t.Cleanup(srv.Close)
	t.Cleanup(gateway.Shutdown)
	return gateway, tokens, srv
}

// bufferedConn drains bytes the dialer read beyond the handshake before
// falling through to the underlying connection. ws.Dial returns a non-nil
// bufio.Reader when the server's first frames arrive together with the
// handshake response; ignoring it would lose those frames.
type bufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	if c.br != nil {
		if c.br.Buffered() > 0 {
			return c.br.Read(p)
		}
		c.br = nil
	}
	return c.Conn.Read(p)
}

func dialGateway(t *testing.T, srv *httptest.Server, token string) (net.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, url)
	if br != nil {
		conn = &bufferedConn{Conn: conn, br: br}
	}
	return conn, err
}

// waitFor polls until the condition holds or the deadline passes. Connection
// teardown runs in the gateway's read goroutine, so registry state trails the
// client-side close.
func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestGatewayConnectAndJoinRooms(t *testing.T) {
	gateway, tokens, srv := newTestGateway(t, nil)

	token, err := tokens.Sign(auth.Identity{
		UserID:       "u1",
		Roles:        []string{"resident"},
		CommunityIDs: []string{"c1", "c2"},
	})
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	conn, err := dialGateway(t, srv, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("ack is not valid JSON: %v", err)
	}
	if env.Type != protocol.TypeConnected {
		t.Fatalf("expected %q ack, got %q", protocol.TypeConnected, env.Type)
	}
	var ack protocol.ConnectedPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		t.Fatalf("ack payload decode: %v", err)
	}
	if ack.UserID != "u1" {
		t.Errorf("expected userId u1, got %q", ack.UserID)
	}

	if gateway.Registry().Count() != 1 {
		t.Errorf("expected 1 registered connection, got %d", gateway.Registry().Count())
	}
	for _, room := range []string{CommunityRoom("c1"), CommunityRoom("c2"), UserRoom("u1")} {
		members := gateway.Rooms().MembersOf(room)
		if len(members) != 1 || members[0] != "u1" {
			t.Errorf("room %s: expected [u1], got %v", room, members)
		}
	}
}

func TestGatewayPingPong(t *testing.T) {
	_, tokens, srv := newTestGateway(t, nil)

	token, _ := tokens.Sign(auth.Identity{UserID: "u1"})
	conn, err := dialGateway(t, srv, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := wsutil.ReadServerText(conn); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	if err := wsutil.WriteClientText(conn, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("pong is not valid JSON: %v", err)
	}
	if env.Type != protocol.TypePong {
		t.Errorf("expected pong, got %q", env.Type)
	}
}

func TestGatewayAnswersProtocolPing(t *testing.T) {
	_, tokens, srv := newTestGateway(t, nil)

	token, _ := tokens.Sign(auth.Identity{UserID: "u1"})
	conn, err := dialGateway(t, srv, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := wsutil.ReadServerText(conn); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	// Protocol-level ping (opcode 0x9), not the JSON ping message.
	if err := ws.WriteFrame(conn, ws.MaskFrame(ws.NewPingFrame(nil))); err != nil {
		t.Fatalf("write ping frame: %v", err)
	}

	frame, err := ws.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read pong frame: %v", err)
	}
	if frame.Header.OpCode != ws.OpPong {
		t.Fatalf("expected pong frame, got opcode %v", frame.Header.OpCode)
	}
}

func TestGatewayRejectsInvalidToken(t *testing.T) {
	gateway, _, srv := newTestGateway(t, nil)

	for _, token := range []string{"", "garbage-token"} {
		conn, err := dialGateway(t, srv, token)
		if err != nil {
			// Some dial paths surface the rejection as a handshake error.
			continue
		}

		_, err = wsutil.ReadServerText(conn)
		closed, ok := err.(wsutil.ClosedError)
		if !ok {
			t.Fatalf("token %q: expected close frame, got %v", token, err)
		}
		if closed.Code != ws.StatusPolicyViolation {
			t.Errorf("token %q: expected close code %d, got %d", token, ws.StatusPolicyViolation, closed.Code)
		}
		conn.Close()
	}

	// A rejected connection leaves no residue behind.
	if gateway.Registry().Count() != 0 {
		t.Errorf("expected empty registry, got %d", gateway.Registry().Count())
	}
	if gateway.Rooms().RoomCount() != 0 {
		t.Errorf("expected no rooms, got %d", gateway.Rooms().RoomCount())
	}
}

func TestGatewayRejectsUnknownSubject(t *testing.T) {
	directory := &staticDirectory{identities: map[string]auth.Identity{}}
	gateway, tokens, srv := newTestGateway(t, directory)

	token, _ := tokens.Sign(auth.Identity{UserID: "deleted-user"})
	conn, err := dialGateway(t, srv, token)
	if err != nil {
		return // rejected at handshake, fine
	}
	defer conn.Close()

	_, err = wsutil.ReadServerText(conn)
	closed, ok := err.(wsutil.ClosedError)
	if !ok {
		t.Fatalf("expected close frame, got %v", err)
	}
	if closed.Code != ws.StatusPolicyViolation {
		t.Errorf("expected close code %d, got %d", ws.StatusPolicyViolation, closed.Code)
	}
	if gateway.Registry().Count() != 0 {
		t.Errorf("expected empty registry, got %d", gateway.Registry().Count())
	}
}

func TestGatewayDirectoryOverridesClaims(t *testing.T) {
	// Memberships come from the directory at connect time, not from whatever
	// the token was minted with.
	directory := &staticDirectory{identities: map[string]auth.Identity{
		"u1": {UserID: "u1", Roles: []string{"resident"}, CommunityIDs: []string{"c-new"}},
	}}
	gateway, tokens, srv := newTestGateway(t, directory)

	token, _ := tokens.Sign(auth.Identity{UserID: "u1", CommunityIDs: []string{"c-stale"}})
	conn, err := dialGateway(t, srv, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := wsutil.ReadServerText(conn); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	if got := gateway.Rooms().MembersOf(CommunityRoom("c-new")); len(got) != 1 {
		t.Errorf("expected u1 in c-new, got %v", got)
	}
	if got := gateway.Rooms().MembersOf(CommunityRoom("c-stale")); len(got) != 0 {
		t.Errorf("expected nobody in c-stale, got %v", got)
	}
}

func TestGatewayLastDisconnectLeavesRooms(t *testing.T) {
	gateway, tokens, srv := newTestGateway(t, nil)

	token, _ := tokens.Sign(auth.Identity{UserID: "u1", CommunityIDs: []string{"c1"}})

	conn1, err := dialGateway(t, srv, token)
	if err != nil {
		t.Fatalf("dial conn1: %v", err)
	}
	conn2, err := dialGateway(t, srv, token)
	if err != nil {
		t.Fatalf("dial conn2: %v", err)
	}
	for _, c := range []net.Conn{conn1, conn2} {
		if _, err := wsutil.ReadServerText(c); err != nil {
			t.Fatalf("read ack: %v", err)
		}
	}

	waitFor(t, func() bool { return gateway.Registry().Count() == 2 })

	// First tab closes: membership survives because a connection remains.
	conn1.Close()
	waitFor(t, func() bool { return gateway.Registry().Count() == 1 })
	if got := gateway.Rooms().MembersOf(CommunityRoom("c1")); len(got) != 1 {
		t.Fatalf("membership should survive a partial disconnect, got %v", got)
	}

	// Last tab closes: the user leaves every room.
	conn2.Close()
	waitFor(t, func() bool { return gateway.Registry().Count() == 0 })
	waitFor(t, func() bool { return gateway.Rooms().RoomCount() == 0 })
}
