package ws

import (
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/quartier/community-app/internal/auth"
)

func fastHeartbeat() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 50 * time.Millisecond,
		Timeout:  25 * time.Millisecond,
	}
}

func TestHeartbeatKeepsPongingConnectionAlive(t *testing.T) {
	gateway, tokens, srv := newTestGateway(t, nil)
	StartHeartbeat(gateway, fastHeartbeat())

	token, err := tokens.Sign(auth.Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	conn, err := dialGateway(t, srv, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// ReadServerData answers protocol-level pings with pongs on the client's
	// behalf, like a browser does. The client sends no application data.
	go func() {
		for {
			if _, _, err := wsutil.ReadServerData(conn); err != nil {
				return
			}
		}
	}()

	// Stay idle at the application level across several heartbeat intervals.
	// The pong replies alone must keep the connection registered.
	time.Sleep(8 * fastHeartbeat().Interval)

	if got := gateway.Registry().Count(); got != 1 {
		t.Fatalf("ping-answering connection was evicted, count=%d", got)
	}
}

func TestHeartbeatEvictsSilentConnection(t *testing.T) {
	gateway, tokens, srv := newTestGateway(t, nil)
	StartHeartbeat(gateway, fastHeartbeat())

	token, err := tokens.Sign(auth.Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	conn, err := dialGateway(t, srv, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Read the ack, then go completely silent: no pongs, no data.
	if _, err := wsutil.ReadServerText(conn); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	waitFor(t, func() bool { return gateway.Registry().Count() == 0 })
}
