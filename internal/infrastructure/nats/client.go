package nats

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultDrainTimeout   = 5 * time.Second
	maxPayloadSize        = 1 << 20
)

// Logger interface for optional logging support.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// MessageHandler is invoked for each message received on a subscription.
// The subject is converted back to topic form (see TopicFromSubject).
type MessageHandler func(topic string, payload []byte) error

// Client wraps a nats.Conn. All methods are safe for concurrent use.
// nats.go restores subscriptions on reconnect by itself.
type Client struct {
	conn *natsgo.Conn
	cfg  config.NATSConfig

	subMu sync.Mutex
	subs  map[string]*natsgo.Subscription

	callbackMu   sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)

	loggerMu sync.RWMutex
	logger   Logger
}

// Connect dials the NATS server described by cfg.
func Connect(cfg config.NATSConfig) (*Client, error) {
	c := &Client{
		cfg:  cfg,
		subs: make(map[string]*natsgo.Subscription),
	}

	opts := []natsgo.Option{
		natsgo.Name(cfg.Name),
		natsgo.Timeout(defaultConnectTimeout),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(time.Duration(cfg.ReconnectWait) * time.Second),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, sub *natsgo.Subscription, err error) {
			if logger := c.getLogger(); logger != nil {
				subject := ""
				if sub != nil {
					subject = sub.Subject
				}
				logger.Error("NATS async error", "subject", subject, "error", err)
			}
		}),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			c.callbackMu.RLock()
			callback := c.onDisconnect
			c.callbackMu.RUnlock()
			if callback != nil {
				callback(err)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			if logger := c.getLogger(); logger != nil {
				logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			}
			c.callbackMu.RLock()
			callback := c.onConnect
			c.callbackMu.RUnlock()
			if callback != nil {
				callback()
			}
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, natsgo.Token(cfg.Token))
	}

	conn, err := natsgo.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.conn = conn
	return c, nil
}

// Publish sends payload on the subject derived from topic.
func (c *Client) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidSubject
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.conn.Publish(SubjectFromTopic(topic), payload); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic (MQTT wildcards allowed).
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidSubject
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(SubjectFromTopic(topic), c.wrapHandler(handler))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.subMu.Lock()
	if old, ok := c.subs[topic]; ok {
		_ = old.Unsubscribe() //nolint:errcheck // replaced
	}
	c.subs[topic] = sub
	c.subMu.Unlock()
	return nil
}

// Unsubscribe removes the subscription for topic, if any.
func (c *Client) Unsubscribe(topic string) error {
	c.subMu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.subMu.Unlock()

	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	done := make(chan struct{})
	c.conn.SetClosedHandler(func(*natsgo.Conn) { close(done) })
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return nil
	}

	select {
	case <-done:
	case <-time.After(defaultDrainTimeout):
		c.conn.Close()
	}
	return nil
}

// HealthCheck reports ErrNotConnected while the server link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("nats health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// SetOnConnect sets a callback invoked after every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for async errors and recovered handler panics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) wrapHandler(handler MessageHandler) natsgo.MsgHandler {
	return func(msg *natsgo.Msg) {
		topic := TopicFromSubject(msg.Subject)
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("NATS handler panic recovered", "topic", topic, "panic", r)
				}
			}
		}()

		if err := handler(topic, msg.Data); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("NATS handler returned error", "topic", topic, "error", err)
			}
		}
	}
}

// SubjectFromTopic converts an MQTT-style topic to a NATS subject.
func SubjectFromTopic(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	for i, p := range parts {
		switch p {
		case "+":
			parts[i] = "*"
		case "#":
			parts[i] = ">"
		}
	}
	return strings.Join(parts, ".")
}

// TopicFromSubject is the inverse of SubjectFromTopic for concrete subjects.
func TopicFromSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
