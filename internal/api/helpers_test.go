package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Kenox00/door-lock-sub001/internal/audit"
	"github.com/Kenox00/door-lock-sub001/internal/auth"
	"github.com/Kenox00/door-lock-sub001/internal/device"
	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/config"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/database"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/logging"
	"github.com/Kenox00/door-lock-sub001/internal/notify"
	_ "github.com/Kenox00/door-lock-sub001/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// recordingSender is a device session that records commands.
type recordingSender struct {
	mu   sync.Mutex
	sent []dispatch.CommandMessage
	err  error
}

func (s *recordingSender) Send(_ context.Context, _ string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	msg, _ := payload.(dispatch.CommandMessage)
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *recordingSender) last() dispatch.CommandMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return dispatch.CommandMessage{}
	}
	return s.sent[len(s.sent)-1]
}

type fakeBroker struct{ connected bool }

func (b fakeBroker) IsConnected() bool { return b.connected }

// testEnv is a fully wired server over a temp-dir database.
type testEnv struct {
	srv       *Server
	router    http.Handler
	db        *database.DB
	devices   *device.Registry
	users     *auth.SQLiteUserRepository
	auditRepo *audit.SQLiteRepository
	manager   *dispatch.Manager
	hub       *notify.Hub

	admin    *auth.User
	operator *auth.User
	alice    *auth.User
	bob      *auth.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	env := &testEnv{
		db:        db,
		devices:   device.NewRegistry(device.NewSQLiteRepository(db.DB)),
		users:     auth.NewUserRepository(db.DB),
		auditRepo: audit.NewSQLiteRepository(db.DB),
	}
	if err := env.devices.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	wsCfg := config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	env.hub = notify.NewHub(wsCfg, DeviceAuthorizer(env.devices))
	t.Cleanup(env.hub.Close)

	env.manager = dispatch.New(env.devices, audit.NewSink(env.auditRepo), env.hub, dispatch.Options{
		CommandTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { env.manager.Close() }) //nolint:errcheck // Test cleanup

	env.srv, err = New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:       wsCfg,
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15}},
		Logger:   logging.Discard(),
		DB:       db,
		Devices:  env.devices,
		Users:    env.users,
		Audit:    env.auditRepo,
		Dispatch: env.manager,
		Hub:      env.hub,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.router = env.srv.Handler()

	env.admin = env.createUser(t, "admin", auth.RoleAdmin)
	env.operator = env.createUser(t, "desk", auth.RoleOperator)
	env.alice = env.createUser(t, "alice", auth.RoleUser)
	env.bob = env.createUser(t, "bob", auth.RoleUser)
	return env
}

func (e *testEnv) createUser(t *testing.T, username string, role auth.Role) *auth.User {
	t.Helper()
	hash, err := auth.HashPassword(username + "-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	u := &auth.User{Username: username, DisplayName: username, PasswordHash: hash, Role: role, IsActive: true}
	if err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create(%s) error = %v", username, err)
	}
	return u
}

func (e *testEnv) token(t *testing.T, u *auth.User) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(u, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return tok
}

// provision stores a lock owned by owner (may be empty).
func (e *testEnv) provision(t *testing.T, id, owner string) {
	t.Helper()
	if _, err := e.devices.Provision(context.Background(), &device.Device{ID: id, Name: "Lock " + id, OwnerID: owner}); err != nil {
		t.Fatalf("Provision(%s) error = %v", id, err)
	}
}

// connect attaches a recording session to the lock.
func (e *testEnv) connect(t *testing.T, id string) *recordingSender {
	t.Helper()
	s := &recordingSender{}
	err := e.manager.OnTransportConnect(context.Background(), dispatch.ConnectEvent{
		DeviceID: id,
		Handle:   dispatch.NewSessionHandle(s),
	})
	if err != nil {
		t.Fatalf("OnTransportConnect(%s) error = %v", id, err)
	}
	return s
}

// do performs a request as user (nil for anonymous) and returns the recorder.
func (e *testEnv) do(t *testing.T, user *auth.User, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, user))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, want, w.Body.String())
	}
}

func expectErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)
	if got := decode[Error](t, w); got.Code != code {
		t.Errorf("error code = %q, want %q", got.Code, code)
	}
}

var errSendBroken = errors.New("socket write failed")
