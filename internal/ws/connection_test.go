package ws

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
)

// Broadcasts and pong replies come from different goroutines; every frame
// must still arrive intact on the wire.
func TestConnectionConcurrentWritesDoNotInterleave(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := &Connection{ID: "conn-1", UserID: "u1", Conn: server}
	c.Touch()

	const perWriter = 100
	text := []byte(`{"type":"pong","payload":{}}`)
	pong := []byte("hb")

	type result struct {
		texts, pongs int
		err          error
	}
	resCh := make(chan result, 1)
	go func() {
		var res result
		for res.texts+res.pongs < 2*perWriter && res.err == nil {
			frame, err := ws.ReadFrame(client)
			if err != nil {
				res.err = err
				break
			}
			switch frame.Header.OpCode {
			case ws.OpText:
				if !bytes.Equal(frame.Payload, text) {
					res.err = fmt.Errorf("corrupt text frame: %q", frame.Payload)
				}
				res.texts++
			case ws.OpPong:
				if !bytes.Equal(frame.Payload, pong) {
					res.err = fmt.Errorf("corrupt pong frame: %q", frame.Payload)
				}
				res.pongs++
			default:
				res.err = fmt.Errorf("unexpected opcode %v", frame.Header.OpCode)
			}
		}
		resCh <- res
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			if err := c.WriteMessage(text); err != nil {
				t.Errorf("WriteMessage: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			if err := c.WritePong(pong); err != nil {
				t.Errorf("WritePong: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	select {
	case res := <-resCh:
		if res.err != nil {
			t.Fatalf("reader: %v", res.err)
		}
		if res.texts != perWriter || res.pongs != perWriter {
			t.Fatalf("expected %d text and %d pong frames, got %d and %d",
				perWriter, perWriter, res.texts, res.pongs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out reading frames")
	}
}
