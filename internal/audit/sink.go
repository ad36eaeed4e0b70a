package audit

import (
	"context"

	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
)

// Sink adapts a Repository to dispatch.AuditSink.
type Sink struct {
	repo Repository
}

var _ dispatch.AuditSink = (*Sink)(nil)

// NewSink creates a sink writing to repo.
func NewSink(repo Repository) *Sink {
	return &Sink{repo: repo}
}

// LogEvent appends one dispatch event to the trail.
func (s *Sink) LogEvent(ctx context.Context, ev dispatch.AuditEvent) error {
	return s.repo.Create(ctx, &AuditLog{
		Action:    ev.EventType,
		DeviceID:  ev.DeviceID,
		CommandID: ev.CommandID,
		UserID:    ev.UserID,
		Details:   ev.Payload,
		CreatedAt: ev.At,
	})
}
