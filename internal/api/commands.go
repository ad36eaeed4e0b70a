package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
)

// commandRequest is the request body for POST /devices/{id}/commands.
type commandRequest struct {
	Command string         `json:"command"`
	Payload map[string]any `json:"payload,omitempty"`
}

// handleDispatchCommand sends a command to a connected lock. The response
// is 202: the command is in flight and its outcome arrives on the dashboard
// WebSocket or via GET /commands/{id}.
func (s *Server) handleDispatchCommand(w http.ResponseWriter, r *http.Request) {
	dev := s.authorizeDevice(w, r)
	if dev == nil {
		return
	}
	claims := claimsFromContext(r.Context())

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	result, err := s.dispatcher.Dispatch(r.Context(), dispatch.DispatchRequest{
		DeviceID: dev.ID,
		Type:     dispatch.CommandType(req.Command),
		Payload:  req.Payload,
		IssuedBy: claims.Subject,
	})
	if err != nil {
		s.writeDispatchError(w, dev.ID, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// writeDispatchError maps dispatch errors onto HTTP responses.
func (s *Server) writeDispatchError(w http.ResponseWriter, deviceID string, err error) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidCommand, err.Error())
	case errors.Is(err, dispatch.ErrDeviceNotConnected):
		writeError(w, http.StatusConflict, ErrCodeDeviceNotConnected, "device is not connected")
	case errors.Is(err, dispatch.ErrDispatchFailed):
		s.logger.Warn("command send failed", "device_id", deviceID, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeDispatchFailed, "failed to deliver command to device")
	default:
		s.logger.Error("dispatch failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "dispatch failed")
	}
}

// handleGetCommand returns an in-flight command. Commands leave the table
// once terminal; their outcome is in the audit trail.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cmd, ok := s.dispatcher.GetCommand(id)
	if !ok || !s.canSee(r, cmd.DeviceID) {
		writeNotFound(w, "command not found or already completed")
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleListPending returns in-flight commands, oldest first.
//
// Query parameters:
//   - device_id: only commands for this lock
func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")

	all := s.dispatcher.ListPending(deviceID)
	cmds := make([]dispatch.PendingSnapshot, 0, len(all))
	for _, c := range all {
		if s.canSee(r, c.DeviceID) {
			cmds = append(cmds, c)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds, "count": len(cmds)})
}

// handleListConnections returns the live connections visible to the caller.
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	all := s.dispatcher.ListConnected()
	conns := make([]dispatch.ConnectionSnapshot, 0, len(all))
	for _, c := range all {
		if s.canSee(r, c.DeviceID) {
			conns = append(conns, c)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns, "count": len(conns)})
}
