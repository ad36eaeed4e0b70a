package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/Kenox00/door-lock-sub001/internal/auth"
	"github.com/Kenox00/door-lock-sub001/internal/notify"
)

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, nil, http.MethodPost, "/api/v1/auth/login", loginRequest{
		Username: "alice",
		Password: "alice-password",
	})
	expectStatus(t, w, http.StatusOK)

	resp := decode[loginResponse](t, w)
	if resp.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", resp.TokenType)
	}
	if resp.ExpiresIn != 15*60 {
		t.Errorf("ExpiresIn = %d, want %d", resp.ExpiresIn, 15*60)
	}
	if resp.User == nil || resp.User.ID != env.alice.ID {
		t.Fatalf("User = %+v, want alice", resp.User)
	}

	claims, err := auth.ParseToken(resp.AccessToken, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != env.alice.ID || claims.Role != auth.RoleUser {
		t.Errorf("claims = %s/%s, want %s/user", claims.Subject, claims.Role, env.alice.ID)
	}
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)
	if err := env.users.SetActive(t.Context(), env.bob.ID, false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"malformed body", "{", http.StatusBadRequest},
		{"missing password", loginRequest{Username: "alice"}, http.StatusBadRequest},
		{"wrong password", loginRequest{Username: "alice", Password: "nope-nope"}, http.StatusUnauthorized},
		{"unknown user", loginRequest{Username: "mallory", Password: "whatever1"}, http.StatusUnauthorized},
		{"inactive user", loginRequest{Username: "bob", Password: "bob-password"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, nil, http.MethodPost, "/api/v1/auth/login", tt.body)
			expectStatus(t, w, tt.want)
		})
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, env.operator, http.MethodGet, "/api/v1/auth/me", nil)
	expectStatus(t, w, http.StatusOK)

	resp := decode[struct {
		User        auth.User         `json:"user"`
		Permissions []auth.Permission `json:"permissions"`
	}](t, w)
	if resp.User.Username != "desk" {
		t.Errorf("Username = %q, want desk", resp.User.Username)
	}
	if len(resp.Permissions) != len(auth.PermissionsForRole(auth.RoleOperator)) {
		t.Errorf("Permissions = %v", resp.Permissions)
	}
}

func TestTicketStore(t *testing.T) {
	store := newTicketStore()
	now := time.Now()
	id := notify.Identity{UserID: "u1", Role: auth.RoleUser}

	ticket := store.issue(id, now)
	if len(ticket) != ticketBytes*2 {
		t.Errorf("ticket length = %d, want %d", len(ticket), ticketBytes*2)
	}

	got, ok := store.redeem(ticket, now.Add(time.Second))
	if !ok || got != id {
		t.Fatalf("redeem() = %+v, %v; want %+v, true", got, ok, id)
	}
	if _, ok := store.redeem(ticket, now.Add(time.Second)); ok {
		t.Error("second redeem() succeeded, want single use")
	}

	expired := store.issue(id, now)
	if _, ok := store.redeem(expired, now.Add(ticketTTL)); ok {
		t.Error("redeem() of expired ticket succeeded")
	}

	stale := store.issue(id, now)
	store.sweep(now.Add(ticketTTL + time.Second))
	store.mu.Lock()
	_, present := store.tickets[stale]
	store.mu.Unlock()
	if present {
		t.Error("sweep() kept an expired ticket")
	}
}

func TestWSTicket(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, env.alice, http.MethodPost, "/api/v1/auth/ws-ticket", nil)
	expectStatus(t, w, http.StatusOK)

	resp := decode[struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}](t, w)
	if resp.Ticket == "" {
		t.Fatal("empty ticket")
	}
	if resp.ExpiresIn != int(ticketTTL.Seconds()) {
		t.Errorf("ExpiresIn = %d, want %d", resp.ExpiresIn, int(ticketTTL.Seconds()))
	}

	id, ok := env.srv.tickets.redeem(resp.Ticket, time.Now())
	if !ok {
		t.Fatal("ticket not redeemable")
	}
	if id.UserID != env.alice.ID || id.Role != auth.RoleUser {
		t.Errorf("identity = %+v, want alice/user", id)
	}
}
