// Package messaging provides a NATS client wrapper for pub/sub messaging
// between the Veil gateway and matcher services. It handles connection
// lifecycle, subject-based subscriptions, and convenience methods for the
// matchmaking and chat-relay channels.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across Veil services.
const (
	SubjectMatchJoin = "match.join"  // gateway -> matcher, join requests
	SubjectRoomEvent = "room.event"  // + .<conn_id>, matcher -> gateway, session events
	SubjectChat      = "chat"        // + .<room_id>, relayed chat traffic
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "veil",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
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

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishMatchJoin publishes a join request to the matcher service.
func (c *NATSClient) PublishMatchJoin(data []byte) error {
	return c.Publish(SubjectMatchJoin, data)
}

// SubscribeMatchJoin subscribes to join requests from gateway instances.
// Matcher instances share the "matchers" queue group, so each request is
// delivered to exactly one of them.
func (c *NATSClient) SubscribeMatchJoin(handler func(data []byte)) error {
	sub, err := c.conn.QueueSubscribe(SubjectMatchJoin, "matchers", func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectMatchJoin, err)
	}

	c.mu.Lock()
	c.subs[SubjectMatchJoin] = sub
	c.mu.Unlock()
	return nil
}

// PublishRoomEvent publishes a session event directed at one connection. The
// gateway holding that connection relays it down the socket.
func (c *NATSClient) PublishRoomEvent(connID string, data []byte) error {
	return c.Publish(SubjectRoomEvent+"."+connID, data)
}

// SubscribeRoomEvents subscribes to session events for a specific connection.
func (c *NATSClient) SubscribeRoomEvents(connID string, handler func(data []byte)) error {
	subject := SubjectRoomEvent + "." + connID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeRoomEvents unsubscribes from a connection's session events.
func (c *NATSClient) UnsubscribeRoomEvents(connID string) error {
	return c.unsubscribe(SubjectRoomEvent + "." + connID)
}

// PublishChatMessage publishes data to the chat.<roomID> subject.
func (c *NATSClient) PublishChatMessage(roomID string, data []byte) error {
	return c.Publish(SubjectChat+"."+roomID, data)
}

// SubscribeToChat subscribes to the chat.<roomID> subject for one connection.
// The subscription is keyed by connID so both participants on the same
// gateway can subscribe to the same room without overwriting each other.
func (c *NATSClient) SubscribeToChat(roomID string, connID string, handler func(data []byte)) error {
	subject := SubjectChat + "." + roomID
	key := "chatsub:" + connID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeFromChat unsubscribes a connection's chat subscription.
func (c *NATSClient) UnsubscribeFromChat(connID string) error {
	return c.unsubscribe("chatsub:" + connID)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
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

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	return sub.Unsubscribe()
}
