package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Kenox00/door-lock-sub001/internal/auth"
	"github.com/Kenox00/door-lock-sub001/internal/device"
	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
)

// provisionRequest is the request body for POST /devices.
type provisionRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// provisionResponse carries the connection token, shown exactly once.
type provisionResponse struct {
	Device *device.Device `json:"device"`
	Token  string         `json:"token"`
}

type setOwnerRequest struct {
	OwnerID string `json:"owner_id"`
}

// deviceView is a stored device merged with its live connection.
type deviceView struct {
	device.Device
	Connection *dispatch.ConnectionSnapshot `json:"connection,omitempty"`
}

// authorizeDevice loads the device in the URL and checks that the caller
// may act on it. On failure it writes the response and returns nil.
// Owner-scoped callers get 404 for locks they do not own.
func (s *Server) authorizeDevice(w http.ResponseWriter, r *http.Request) *device.Device {
	id := chi.URLParam(r, "id")
	claims := claimsFromContext(r.Context())

	dev, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil
		}
		s.logger.Error("get device failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return nil
	}

	if !auth.CanAccessDevice(claims.Role, claims.Subject, dev.OwnerID) {
		writeNotFound(w, "device not found")
		return nil
	}
	return dev
}

// canSee reports whether the caller may see deviceID.
func (s *Server) canSee(r *http.Request, deviceID string) bool {
	claims := claimsFromContext(r.Context())
	if !auth.IsOwnerScoped(claims.Role) {
		return true
	}
	dev, err := s.devices.GetDevice(r.Context(), deviceID)
	if err != nil {
		return false
	}
	return auth.CanAccessDevice(claims.Role, claims.Subject, dev.OwnerID)
}

// handleListDevices returns the devices visible to the caller, each with its
// live connection if any.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var devices []device.Device
	if auth.IsOwnerScoped(claims.Role) {
		devices = s.devices.ListByOwner(claims.Subject)
	} else {
		devices = s.devices.ListDevices()
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.view(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

func (s *Server) view(d device.Device) deviceView {
	v := deviceView{Device: d}
	if snap, ok := s.dispatcher.GetStatus(d.ID); ok {
		v.Connection = &snap
	}
	return v
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev := s.authorizeDevice(w, r)
	if dev == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.view(*dev))
}

// handleDeviceStatus returns the live connection of a device. Offline
// devices get an offline record carrying the last stored sighting.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	dev := s.authorizeDevice(w, r)
	if dev == nil {
		return
	}

	if snap, ok := s.dispatcher.GetStatus(dev.ID); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}

	resp := map[string]any{
		"device_id":  dev.ID,
		"status":     dispatch.StatusOffline,
		"transports": []dispatch.TransportKind{},
	}
	if dev.LastSeen != nil {
		resp["last_seen"] = dev.LastSeen
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProvisionDevice registers a new lock and returns its connection token.
func (s *Server) handleProvisionDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ID == "" {
		req.ID = device.GenerateID()
	}
	if req.OwnerID != "" && !s.ownerExists(w, r, req.OwnerID) {
		return
	}

	dev := &device.Device{
		ID:      req.ID,
		Name:    req.Name,
		OwnerID: req.OwnerID,
		Status:  dispatch.StatusOffline,
	}
	token, err := s.devices.Provision(r.Context(), dev)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidDevice), errors.Is(err, device.ErrInvalidName):
			writeBadRequest(w, err.Error())
		case errors.Is(err, device.ErrDeviceExists):
			writeConflict(w, "device already exists")
		default:
			s.logger.Error("provision device failed", "device_id", req.ID, "error", err)
			writeInternalError(w, "failed to provision device")
		}
		return
	}

	s.auditLog("device_provisioned", dev.ID, "", claims.Subject, map[string]any{
		"name":     dev.Name,
		"owner_id": dev.OwnerID,
	})
	writeJSON(w, http.StatusCreated, provisionResponse{Device: dev, Token: token})
}

// ownerExists checks that ownerID names an account. On failure it writes
// the response.
func (s *Server) ownerExists(w http.ResponseWriter, r *http.Request, ownerID string) bool {
	if _, err := s.users.GetByID(r.Context(), ownerID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeBadRequest(w, "owner_id does not name an account")
			return false
		}
		s.logger.Error("owner lookup failed", "owner_id", ownerID, "error", err)
		writeInternalError(w, "failed to check owner")
		return false
	}
	return true
}

// handleRotateToken issues a new connection token. Live sessions stay up.
func (s *Server) handleRotateToken(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	id := chi.URLParam(r, "id")

	token, err := s.devices.RotateToken(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("rotate token failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to rotate token")
		return
	}

	s.auditLog("device_token_rotated", id, "", claims.Subject, nil)
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "token": token})
}

// handleSetOwner reassigns a lock. An empty owner_id clears the owner.
func (s *Server) handleSetOwner(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req setOwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.OwnerID != "" && !s.ownerExists(w, r, req.OwnerID) {
		return
	}

	if err := s.devices.SetOwner(r.Context(), id, req.OwnerID); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("set owner failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to set owner")
		return
	}

	s.auditLog("device_owner_changed", id, "", claims.Subject, map[string]any{"owner_id": req.OwnerID})
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "owner_id": req.OwnerID})
}

// handleDeleteDevice removes a lock. A live connection is not dropped; the
// lock cannot authenticate again.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.devices.DeleteDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("delete device failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to delete device")
		return
	}

	s.auditLog("device_deleted", id, "", claims.Subject, nil)
	w.WriteHeader(http.StatusNoContent)
}
