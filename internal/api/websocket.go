package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Kenox00/door-lock-sub001/internal/auth"
	"github.com/Kenox00/door-lock-sub001/internal/device"
	"github.com/Kenox00/door-lock-sub001/internal/notify"
)

// handleWebSocket upgrades a dashboard connection to the notification hub.
// Authentication is via ticket query parameter (obtained from POST /auth/ws-ticket).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	identity, ok := s.tickets.redeem(ticket, time.Now())
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	s.hub.Serve(w, r, identity)
}

// DeviceAuthorizer returns the hub's room check: staff may watch any lock,
// owners only their own.
func DeviceAuthorizer(devices *device.Registry) notify.DeviceAuthorizer {
	return func(ctx context.Context, id notify.Identity, deviceID string) bool {
		if !auth.IsOwnerScoped(id.Role) {
			return auth.IsValidRole(id.Role)
		}
		dev, err := devices.GetDevice(ctx, deviceID)
		if err != nil {
			return false
		}
		return auth.CanAccessDevice(id.Role, id.UserID, dev.OwnerID)
	}
}
