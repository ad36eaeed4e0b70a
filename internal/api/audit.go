package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Kenox00/door-lock-sub001/internal/audit"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const auditChanSize = 256

// auditLog enqueues an audit entry for an operator action (best-effort).
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) auditLog(action, deviceID, commandID, userID string, details map[string]any) {
	if s.auditCh == nil {
		return
	}

	entry := &audit.AuditLog{
		Action:    action,
		DeviceID:  deviceID,
		CommandID: commandID,
		UserID:    userID,
		Details:   details,
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", action,
			"device_id", deviceID,
		)
	}
}

// drainAuditLog writes queued entries serially until ctx is cancelled, then
// flushes whatever is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.AuditLog) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"device_id", entry.DeviceID,
			"error", err,
		)
	}
}

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: filter by action (command_sent, command_executed, login, ...)
//   - device_id, command_id, user_id: filter by subject
//   - since, until: RFC 3339 time bounds
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:    q.Get("action"),
		DeviceID:  q.Get("device_id"),
		CommandID: q.Get("command_id"),
		UserID:    q.Get("user_id"),
	}

	for name, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = t
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
