package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
)

// SessionEventCommand is the event name commands are sent under on a session.
const SessionEventCommand = "command"

// Handle is a live transport to one device. It is a closed set:
// *SessionHandle and *BrokerHandle are the only implementations.
type Handle interface {
	Kind() TransportKind
	Send(ctx context.Context, msg CommandMessage) error
	handle()
}

// SessionSender is the local send primitive of a device session. It reports
// only whether the message was queued locally, not delivery.
type SessionSender interface {
	Send(ctx context.Context, event string, payload any) error
}

// SessionHandle wraps a device's point-to-point session.
type SessionHandle struct {
	sender SessionSender
}

// NewSessionHandle returns a handle for the given session.
func NewSessionHandle(sender SessionSender) *SessionHandle {
	return &SessionHandle{sender: sender}
}

// Kind returns TransportSession.
func (*SessionHandle) Kind() TransportKind { return TransportSession }

// Send emits msg as a "command" event on the session.
func (h *SessionHandle) Send(ctx context.Context, msg CommandMessage) error {
	return h.sender.Send(ctx, SessionEventCommand, msg)
}

func (*SessionHandle) handle() {}

// Publisher is the broker publish primitive.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// BrokerHandle addresses a device through its command topic on the broker.
type BrokerHandle struct {
	publisher Publisher
	topic     string
}

// NewBrokerHandle returns a handle that publishes to topic.
func NewBrokerHandle(publisher Publisher, topic string) *BrokerHandle {
	return &BrokerHandle{publisher: publisher, topic: topic}
}

// Kind returns TransportBroker.
func (*BrokerHandle) Kind() TransportKind { return TransportBroker }

// Topic returns the command topic of the device.
func (h *BrokerHandle) Topic() string { return h.topic }

// Send publishes msg as JSON on the device's command topic.
func (h *BrokerHandle) Send(ctx context.Context, msg CommandMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	return h.publisher.Publish(ctx, h.topic, payload)
}

func (*BrokerHandle) handle() {}
