package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/config"
)

func TestSubjectFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"doorlock/device/lock-1/ack", "doorlock.device.lock-1.ack"},
		{"doorlock/device/+/heartbeat", "doorlock.device.*.heartbeat"},
		{"doorlock/#", "doorlock.>"},
		{"/leading/slash/", "leading.slash"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			if got := SubjectFromTopic(tt.topic); got != tt.want {
				t.Errorf("SubjectFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}

func TestTopicFromSubject(t *testing.T) {
	if got := TopicFromSubject("doorlock.device.lock-1.ack"); got != "doorlock/device/lock-1/ack" {
		t.Errorf("TopicFromSubject() = %q", got)
	}
}

func TestValidation_Disconnected(t *testing.T) {
	c := &Client{subs: make(map[string]*natsgo.Subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Publish("", nil); !errors.Is(err, ErrInvalidSubject) {
		t.Errorf("Publish(\"\") error = %v, want ErrInvalidSubject", err)
	}
	if err := c.Publish("a/b", make([]byte, maxPayloadSize+1)); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(large) error = %v, want ErrPublishFailed", err)
	}
	if err := c.Publish("a/b", []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("a/b", nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("a/b", noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Unsubscribe("never"); err != nil {
		t.Errorf("Unsubscribe(unknown) error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestRoundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}
	c, err := Connect(config.NATSConfig{
		URL:           "nats://127.0.0.1:4222",
		Name:          "doorlock-test",
		MaxReconnects: 1,
		ReconnectWait: 1,
	})
	if err != nil {
		t.Skipf("no NATS server available: %v", err)
	}
	defer c.Close() //nolint:errcheck // Test cleanup

	got := make(chan string, 1)
	if err := c.Subscribe("doorlock-test/device/+/ack", func(topic string, payload []byte) error {
		got <- topic + " " + string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := c.Publish("doorlock-test/device/lock-2/ack", []byte("ok")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-got:
		if msg != "doorlock-test/device/lock-2/ack ok" {
			t.Errorf("received %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}
