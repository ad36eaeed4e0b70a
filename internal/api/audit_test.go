package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/Kenox00/door-lock-sub001/internal/audit"
)

func auditFilter(action string) audit.Filter {
	return audit.Filter{Action: action}
}

// flushAudit writes every queued API audit entry.
func flushAudit(s *Server) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.drainAuditLog(ctx)
}

func TestListAuditLogs(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "lock-1", env.alice.ID)
	env.connect(t, "lock-1")

	w := env.do(t, env.admin, http.MethodPost, "/api/v1/devices/lock-1/commands", commandRequest{Command: "lock_door"})
	expectStatus(t, w, http.StatusAccepted)

	w = env.do(t, env.admin, http.MethodGet, "/api/v1/audit?action=command_sent&device_id=lock-1", nil)
	expectStatus(t, w, http.StatusOK)

	res := decode[audit.ListResult](t, w)
	if res.Total != 1 || len(res.Logs) != 1 {
		t.Fatalf("Total = %d, Logs = %d, want 1", res.Total, len(res.Logs))
	}
	entry := res.Logs[0]
	if entry.UserID != env.admin.ID || entry.CommandID == "" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Details["command_type"] != "lock_door" {
		t.Errorf("command_type = %v, want lock_door", entry.Details["command_type"])
	}

	w = env.do(t, env.admin, http.MethodGet, "/api/v1/audit?action=device_connected&limit=1", nil)
	expectStatus(t, w, http.StatusOK)
	if res := decode[audit.ListResult](t, w); res.Total != 1 || res.Limit != 1 {
		t.Errorf("device_connected Total = %d Limit = %d, want 1/1", res.Total, res.Limit)
	}
}

func TestListAuditLogs_BadTime(t *testing.T) {
	env := newTestEnv(t)

	for _, q := range []string{"since=yesterday", "until=2026-13-01"} {
		w := env.do(t, env.admin, http.MethodGet, "/api/v1/audit?"+q, nil)
		expectStatus(t, w, http.StatusBadRequest)
	}
	expectStatus(t, env.do(t, env.admin, http.MethodGet, "/api/v1/audit?since=2026-01-01T00:00:00Z", nil), http.StatusOK)
}

func TestListAuditLogs_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.srv.auditRepo = nil

	w := env.do(t, env.admin, http.MethodGet, "/api/v1/audit", nil)
	expectErrorCode(t, w, http.StatusServiceUnavailable, ErrCodeUnavailable)
}

func TestOperatorActionsAudited(t *testing.T) {
	env := newTestEnv(t)

	expectStatus(t, env.do(t, env.admin, http.MethodPost, "/api/v1/devices", provisionRequest{ID: "lock-9", Name: "Garage"}), http.StatusCreated)
	expectStatus(t, env.do(t, env.admin, http.MethodPost, "/api/v1/devices/lock-9/token", nil), http.StatusOK)
	expectStatus(t, env.do(t, env.admin, http.MethodDelete, "/api/v1/devices/lock-9", nil), http.StatusNoContent)
	flushAudit(env.srv)

	for _, action := range []string{"device_provisioned", "device_token_rotated", "device_deleted"} {
		res, err := env.auditRepo.List(context.Background(), audit.Filter{Action: action, DeviceID: "lock-9"})
		if err != nil {
			t.Fatalf("List(%s) error = %v", action, err)
		}
		if res.Total != 1 {
			t.Errorf("%s entries = %d, want 1", action, res.Total)
			continue
		}
		if res.Logs[0].UserID != env.admin.ID {
			t.Errorf("%s user = %q, want admin", action, res.Logs[0].UserID)
		}
	}
}

func TestAuditLog_DropsWhenFull(t *testing.T) {
	env := newTestEnv(t)

	for range auditChanSize + 10 {
		env.srv.auditLog("login", "", "", env.admin.ID, nil)
	}
	if got := len(env.srv.auditCh); got != auditChanSize {
		t.Errorf("queued = %d, want %d", got, auditChanSize)
	}
}
