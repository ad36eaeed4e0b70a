package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/config"
)

// Logger is satisfied by *logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is the gateway's broker connection. Safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	mu           sync.RWMutex
	connected    bool
	subs         map[string]subscription
	onConnect    func()
	onDisconnect func(error)
	logger       Logger
}

// Connect dials the broker and blocks until the first connection succeeds
// or connectTimeout passes. After that paho reconnects on its own; every
// (re)connect replays subscriptions and republishes the gateway's online
// status on topics.GatewayStatus().
func Connect(cfg config.MQTTConfig, topics Topics) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: topics,
		subs:   make(map[string]subscription),
		logger: nopLogger{},
	}

	opts := clientOptions(cfg, topics.GatewayStatus()).
		SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleLost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			c.log().Warn("mqtt reconnecting", "client_id", cfg.Broker.ClientID)
		})

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), ErrConnectionFailed); err != nil {
		return nil, err
	}

	// handleConnect runs on paho's goroutine; don't make callers wait for it.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return c, nil
}

func (c *Client) handleConnect() {
	c.mu.Lock()
	c.connected = true
	subs := make(map[string]subscription, len(c.subs))
	for topic, s := range c.subs {
		subs[topic] = s
	}
	callback := c.onConnect
	c.mu.Unlock()

	for topic, s := range subs {
		c.client.Subscribe(topic, s.qos, c.wrapHandler(s.handler))
	}
	c.client.Publish(c.topics.GatewayStatus(), byte(c.cfg.QoS), true,
		statusPayload(c.cfg.Broker.ClientID, "online", ""))

	if callback != nil {
		callback()
	}
}

func (c *Client) handleLost(err error) {
	c.mu.Lock()
	c.connected = false
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// Close publishes a graceful offline status, which locks can tell apart
// from the will, and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(c.topics.GatewayStatus(), byte(c.cfg.QoS), true,
			statusPayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(operationTimeout)
	}
	c.client.Disconnect(quiesceMillis)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets the logger for handler failures and reconnects.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return nopLogger{}
	}
	return c.logger
}
