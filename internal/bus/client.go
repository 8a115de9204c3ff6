// ABOUTME: Thin nats.go client for JSON publish/subscribe on bus subjects
// ABOUTME: Used by webhook handlers (publish) and push-fed adapters (subscribe)

package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Client is a connection to the bus.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials the bus at url.
func Connect(url string, logger *slog.Logger) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("clawswarm"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn, logger: logger.With("component", "bus")}, nil
}

// Publish sends raw bytes on a subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishJSON marshals v and publishes it.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(subject, data)
}

// SubscribeJSON decodes each message on subject into a fresh T and calls fn.
// Undecodable payloads are logged and dropped.
func SubscribeJSON[T any](c *Client, subject string, fn func(T)) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			c.logger.Warn("dropping undecodable bus message", "subject", subject, "error", err)
			return
		}
		fn(v)
	})
}

// Flush waits until the server has processed everything published so far.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close closes the connection.
func (c *Client) Close() {
	c.conn.Close()
}
