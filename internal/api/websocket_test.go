package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kenox00/door-lock-sub001/internal/auth"
	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
	"github.com/Kenox00/door-lock-sub001/internal/notify"
)

func (e *testEnv) ticket(t *testing.T, u *auth.User) string {
	t.Helper()
	w := e.do(t, u, http.MethodPost, "/api/v1/auth/ws-ticket", nil)
	expectStatus(t, w, http.StatusOK)
	return decode[map[string]any](t, w)["ticket"].(string)
}

func dialDashboard(t *testing.T, ts *httptest.Server, ticket string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket
	return websocket.DefaultDialer.Dial(url, nil)
}

func readMessage(t *testing.T, conn *websocket.Conn) notify.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var msg notify.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, hub *notify.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDashboardWebSocket_OwnerNotified(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "lock-1", env.alice.ID)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	conn, _, err := dialDashboard(t, ts, env.ticket(t, env.alice))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	waitForClients(t, env.hub, 1)

	env.connect(t, "lock-1")

	msg := readMessage(t, conn)
	if msg.Type != notify.TypeEvent || msg.EventType != dispatch.NotifyDeviceStatus {
		t.Fatalf("message = %+v, want device_status event", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["device_id"] != "lock-1" {
		t.Errorf("payload = %v, want lock-1", payload)
	}
}

func TestDashboardWebSocket_SubscribeScoped(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "alice-lock", env.alice.ID)
	env.provision(t, "bob-lock", env.bob.ID)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	conn, _, err := dialDashboard(t, ts, env.ticket(t, env.alice))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	err = conn.WriteJSON(notify.Message{
		Type:    notify.TypeSubscribe,
		ID:      "sub-1",
		Payload: notify.SubscribePayload{Devices: []string{"alice-lock", "bob-lock"}},
	})
	if err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != notify.TypeResponse || msg.ID != "sub-1" {
		t.Fatalf("message = %+v, want response to sub-1", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	joined, _ := payload["subscribed"].([]any)
	denied, _ := payload["denied"].([]any)
	if len(joined) != 1 || joined[0] != "alice-lock" {
		t.Errorf("subscribed = %v, want [alice-lock]", joined)
	}
	if len(denied) != 1 || denied[0] != "bob-lock" {
		t.Errorf("denied = %v, want [bob-lock]", denied)
	}
}

func TestDashboardWebSocket_TicketRequired(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ticket := env.ticket(t, env.alice)
	conn, _, err := dialDashboard(t, ts, ticket)
	if err != nil {
		t.Fatalf("first Dial() error = %v", err)
	}
	conn.Close()

	tests := []struct {
		name   string
		ticket string
	}{
		{"missing", ""},
		{"unknown", "deadbeef"},
		{"reused", ticket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := dialDashboard(t, ts, tt.ticket)
			if err == nil {
				t.Fatal("Dial() succeeded, want rejection")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("response = %v, want 401", resp)
			}
		})
	}
}

func TestDeviceAuthorizer(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "lock-1", env.alice.ID)
	authorize := DeviceAuthorizer(env.devices)
	ctx := context.Background()

	tests := []struct {
		name   string
		id     notify.Identity
		device string
		want   bool
	}{
		{"owner", notify.Identity{UserID: env.alice.ID, Role: auth.RoleUser}, "lock-1", true},
		{"other owner", notify.Identity{UserID: env.bob.ID, Role: auth.RoleUser}, "lock-1", false},
		{"owner unknown lock", notify.Identity{UserID: env.alice.ID, Role: auth.RoleUser}, "nope", false},
		{"operator", notify.Identity{UserID: env.operator.ID, Role: auth.RoleOperator}, "lock-1", true},
		{"admin any lock", notify.Identity{UserID: env.admin.ID, Role: auth.RoleAdmin}, "nope", true},
		{"bad role", notify.Identity{UserID: "x", Role: "root"}, "lock-1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := authorize(ctx, tt.id, tt.device); got != tt.want {
				t.Errorf("authorize() = %v, want %v", got, tt.want)
			}
		})
	}
}
