package broker

import (
	"context"

	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/mqtt"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/nats"
)

// Handler receives one message. topic is always in slash form.
type Handler func(topic string, payload []byte) error

// Bus is the publish/subscribe client under the channel. It also serves as
// the dispatch.Publisher of every BrokerHandle the channel creates.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
	Unsubscribe(topic string) error
}

// MQTTBus adapts an MQTT client. Commands are published non-retained.
type MQTTBus struct {
	client *mqtt.Client
	qos    byte
}

// NewMQTTBus wraps client, publishing and subscribing at qos.
func NewMQTTBus(client *mqtt.Client, qos int) *MQTTBus {
	if qos < 0 || qos > 2 {
		qos = 1
	}
	return &MQTTBus{client: client, qos: byte(qos)}
}

// Publish sends payload on topic.
func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.client.Publish(topic, payload, b.qos, false)
}

// Subscribe registers handler for topic.
func (b *MQTTBus) Subscribe(topic string, handler Handler) error {
	return b.client.Subscribe(topic, b.qos, mqtt.MessageHandler(handler))
}

// Unsubscribe removes the subscription for topic.
func (b *MQTTBus) Unsubscribe(topic string) error {
	return b.client.Unsubscribe(topic)
}

// NATSBus adapts a NATS client. Topics are mapped to subjects by the client.
type NATSBus struct {
	client *nats.Client
}

// NewNATSBus wraps client.
func NewNATSBus(client *nats.Client) *NATSBus {
	return &NATSBus{client: client}
}

// Publish sends payload on the subject for topic.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.client.Publish(topic, payload)
}

// Subscribe registers handler for topic.
func (b *NATSBus) Subscribe(topic string, handler Handler) error {
	return b.client.Subscribe(topic, nats.MessageHandler(handler))
}

// Unsubscribe removes the subscription for topic.
func (b *NATSBus) Unsubscribe(topic string) error {
	return b.client.Unsubscribe(topic)
}
