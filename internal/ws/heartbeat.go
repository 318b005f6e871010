package ws

import (
	"log"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping
	Timeout  time.Duration // max time to wait for activity after a ping
}

// DefaultHeartbeatConfig returns defaults suitable for browser clients.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically sends
// protocol-level ping frames to all connections and evicts those with no
// inbound activity within Interval + Timeout. Without it a half-open
// connection would linger in the registry until the transport eventually
// errors. The goroutine exits when the gateway's done channel is closed.
func StartHeartbeat(g *Gateway, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-g.done:
				return
			case <-ticker.C:
				checkConnections(g, config)
			}
		}
	}()
}

// checkConnections evicts stale connections and pings the rest. Browsers
// answer the ping frame automatically, which refreshes LastSeen via the read
// loop.
func checkConnections(g *Gateway, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range g.registry.All() {
		if now.Sub(c.LastSeen()) > deadline {
			log.Printf("ws: heartbeat timeout user=%s conn=%s idle=%s",
				c.UserID, c.ID, now.Sub(c.LastSeen()).Round(time.Second))
			g.CloseConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed user=%s conn=%s: %v", c.UserID, c.ID, err)
			g.CloseConnection(c)
		}
	}
}
