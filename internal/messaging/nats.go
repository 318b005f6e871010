// Package messaging provides a NATS client wrapper for pub/sub between the
// API server and the notifier worker. The API server publishes domain events
// after each committed mutation; the notifier consumes them, writes
// notification rows, and publishes per-user delivery messages that the API
// server's gateway bridge forwards to connected sockets.
package messaging

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used across the platform.
const (
	SubjectPostCreated    = "events.post.created"
	SubjectCommentCreated = "events.comment.created"
	SubjectReportOpened   = "events.report.opened"
	SubjectNotifyUser     = "notify.user" // + .<user_id>
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "quartier",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Client wraps the NATS connection with helper methods for the platform's
// subjects.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for cleanup on Close.
func (c *Client) Subscribe(subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// PublishNotify publishes a per-user delivery message to notify.user.<id>.
func (c *Client) PublishNotify(userID string, data []byte) error {
	return c.Publish(SubjectNotifyUser+"."+userID, data)
}

// SubscribeNotifyAll subscribes to notify.user.> and passes each message's
// target user ID (the final subject token) together with the payload to the
// handler. The gateway bridge uses this to forward notifications to whichever
// of the target's connections are local.
func (c *Client) SubscribeNotifyAll(handler func(userID string, data []byte)) error {
	subject := SubjectNotifyUser + ".>"
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		userID := msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]
		handler(userID, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
