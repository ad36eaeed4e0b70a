package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Default tuning values, used for zero fields in Options.
const (
	DefaultCommandTimeout        = 30 * time.Second
	DefaultBrokerPresenceTTL     = 120 * time.Second
	DefaultPresenceSweepInterval = 15 * time.Second
	DefaultLowBatteryThreshold   = 20.0
	DefaultSinkTimeout           = 2 * time.Second
)

// Options tunes a Manager.
type Options struct {
	// CommandTimeout is how long a command may stay non-terminal. An
	// intermediate ack restarts it.
	CommandTimeout time.Duration

	// BrokerPresenceTTL is how long broker presence lasts without traffic.
	BrokerPresenceTTL time.Duration

	// PresenceSweepInterval is how often Run prunes expired broker presence.
	PresenceSweepInterval time.Duration

	// LowBatteryThreshold is the battery_level below which a one-shot
	// low_battery alert is raised. Negative disables the alert.
	LowBatteryThreshold float64

	// SinkTimeout bounds each directory, audit and notifier call.
	SinkTimeout time.Duration

	// Now and NewCommandID are replaceable for tests.
	Now          func() time.Time
	NewCommandID func() string
}

func (o Options) withDefaults() Options {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.BrokerPresenceTTL <= 0 {
		o.BrokerPresenceTTL = DefaultBrokerPresenceTTL
	}
	if o.PresenceSweepInterval <= 0 {
		o.PresenceSweepInterval = DefaultPresenceSweepInterval
	}
	if o.LowBatteryThreshold == 0 {
		o.LowBatteryThreshold = DefaultLowBatteryThreshold
	}
	if o.SinkTimeout <= 0 {
		o.SinkTimeout = DefaultSinkTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewCommandID == nil {
		o.NewCommandID = uuid.NewString
	}
	return o
}

// Manager is the device connection and command dispatch manager.
// All exported methods are safe for concurrent use.
type Manager struct {
	reg     *registry
	pending *pendingTable

	dir       Directory
	audit     AuditSink
	notifier  Notifier
	telemetry Telemetry
	logger    Logger

	opts Options

	// order serialises collaborator follow-ups of the same device.
	order deviceLocks

	dispatched atomic.Uint64
	executed   atomic.Uint64
	failed     atomic.Uint64
	timedOut   atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Manager. Nil collaborators are replaced by no-ops.
func New(dir Directory, audit AuditSink, notifier Notifier, opts Options) *Manager {
	if dir == nil {
		dir = noopDirectory{}
	}
	if audit == nil {
		audit = noopAudit{}
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Manager{
		reg:       newRegistry(),
		pending:   newPendingTable(),
		dir:       dir,
		audit:     audit,
		notifier:  notifier,
		telemetry: noopTelemetry{},
		logger:    noopLogger{},
		opts:      opts.withDefaults(),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for the manager. Call before use.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetTelemetry sets the time-series writer. Call before use.
func (m *Manager) SetTelemetry(t Telemetry) {
	if t != nil {
		m.telemetry = t
	}
}

// CommandTimeout returns the effective command timeout.
func (m *Manager) CommandTimeout() time.Duration {
	return m.opts.CommandTimeout
}

// =============================================================================
// Dispatch
// =============================================================================

// Dispatch sends a command over the device's session if live, else over the
// broker. It returns once the transport accepted the message; the outcome is
// reported later through the notifier and audit sink.
//
// Errors: ErrInvalidCommand (unknown type), ErrDeviceNotConnected (no live
// transport), ErrDispatchFailed (local send failed). None of these leave a
// pending command behind.
func (m *Manager) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	if !req.Type.Valid() {
		return DispatchResult{}, fmt.Errorf("%w: unknown command type %q", ErrInvalidCommand, req.Type)
	}

	h, ok := m.reg.selectHandle(req.DeviceID)
	if !ok {
		return DispatchResult{}, fmt.Errorf("%w: %s", ErrDeviceNotConnected, req.DeviceID)
	}

	now := m.opts.Now()
	cmd := PendingSnapshot{
		CommandID:  m.opts.NewCommandID(),
		DeviceID:   req.DeviceID,
		Type:       req.Type,
		Payload:    cloneMetadata(req.Payload),
		State:      StateSent,
		IssuedBy:   req.IssuedBy,
		Transport:  h.Kind(),
		SentAt:     now,
		LastUpdate: now,
	}

	// Registered before the send so an ack racing the return is correlated.
	// Such an ack is held until the send has returned.
	if !m.pending.insert(cmd) {
		return DispatchResult{}, fmt.Errorf("%w: manager closed", ErrDispatchFailed)
	}

	msg := CommandMessage{
		CommandID:   cmd.CommandID,
		CommandType: cmd.Type,
		Timestamp:   now,
		Payload:     req.Payload,
	}
	if err := h.Send(ctx, msg); err != nil {
		m.pending.remove(cmd.CommandID)
		m.logger.Warn("command send failed",
			"device_id", req.DeviceID,
			"command_id", cmd.CommandID,
			"transport", string(h.Kind()),
			"error", err,
		)
		return DispatchResult{}, fmt.Errorf("%w: %s: %w", ErrDispatchFailed, h.Kind(), err)
	}

	m.dispatched.Add(1)

	m.logger.Info("command sent",
		"device_id", req.DeviceID,
		"command_id", cmd.CommandID,
		"command_type", string(req.Type),
		"transport", string(h.Kind()),
		"issued_by", req.IssuedBy,
	)

	m.logEvent(ctx, AuditEvent{
		DeviceID:  req.DeviceID,
		EventType: EventCommandSent,
		CommandID: cmd.CommandID,
		UserID:    req.IssuedBy,
		Payload: map[string]any{
			"command_type": string(req.Type),
			"transport":    string(h.Kind()),
			"payload":      req.Payload,
		},
		At: now,
	})

	for _, ack := range m.pending.markSent(cmd.CommandID, m.opts.CommandTimeout, m.onTimer) {
		m.applyAck(ctx, ack)
	}

	return DispatchResult{
		CommandID: cmd.CommandID,
		State:     StateSent,
		Transport: h.Kind(),
	}, nil
}

// =============================================================================
// Transport events
// =============================================================================

// OnTransportConnect registers a live transport for a device. Registering a
// kind that is already live replaces its handle and only refreshes lastSeen.
func (m *Manager) OnTransportConnect(ctx context.Context, ev ConnectEvent) error {
	if ev.DeviceID == "" || !validHandle(ev.Handle) {
		return fmt.Errorf("%w: connect needs device id and handle", ErrInvalidEvent)
	}

	now := m.opts.Now()
	kind := ev.Handle.Kind()
	res := m.reg.register(ev.DeviceID, ev.Handle, ev.Metadata, now)

	owner := res.snapshot.OwnerID
	if res.needsOwner {
		owner = m.lookupOwner(ctx, ev.DeviceID)
		if owner != "" {
			m.reg.setOwner(ev.DeviceID, owner)
		}
	}

	unlock := m.order.lock(ev.DeviceID)
	defer unlock()

	current := m.reg.epoch(ev.DeviceID) == res.epoch
	if current {
		m.persistStatus(ctx, ev.DeviceID, StatusOnline, now, ev.Metadata)
	} else {
		m.logger.Debug("device went offline before connect was reported",
			"device_id", ev.DeviceID,
			"transport", string(kind),
		)
	}

	if res.attached {
		m.logger.Info("device transport connected",
			"device_id", ev.DeviceID,
			"transport", string(kind),
			"transports", len(res.snapshot.Transports),
		)
		m.logEvent(ctx, AuditEvent{
			DeviceID:  ev.DeviceID,
			EventType: EventDeviceConnected,
			Payload:   map[string]any{"transport": string(kind)},
			At:        now,
		})
	}

	if res.created && current {
		m.notifyOwner(ctx, owner, NotifyDeviceStatus, StatusChange{
			DeviceID:   ev.DeviceID,
			Status:     StatusOnline,
			Transports: res.snapshot.Transports,
			At:         now,
		})
	}
	return nil
}

// OnTransportDisconnect drops a transport. The device goes offline only when
// its last transport is gone.
func (m *Manager) OnTransportDisconnect(ctx context.Context, ev DisconnectEvent) error {
	if ev.DeviceID == "" || (ev.Kind != TransportSession && ev.Kind != TransportBroker) {
		return fmt.Errorf("%w: disconnect needs device id and transport kind", ErrInvalidEvent)
	}

	res := m.reg.unregister(ev.DeviceID, ev.Kind, ev.Handle)
	if !res.removed {
		m.logger.Debug("ignoring disconnect for transport not registered",
			"device_id", ev.DeviceID,
			"transport", string(ev.Kind),
		)
		return nil
	}
	m.afterUnregister(ctx, ev.DeviceID, ev.Kind, ev.Reason, res)
	return nil
}

func (m *Manager) afterUnregister(ctx context.Context, deviceID string, kind TransportKind, reason string, res unregisterResult) {
	if !res.deleted {
		m.logger.Info("device transport dropped, device still online",
			"device_id", deviceID,
			"transport", string(kind),
			"reason", reason,
		)
		return
	}

	now := m.opts.Now()
	m.logger.Info("device offline",
		"device_id", deviceID,
		"transport", string(kind),
		"reason", reason,
	)

	owner := res.snapshot.OwnerID
	if owner == "" {
		owner = m.lookupOwner(ctx, deviceID)
	}

	unlock := m.order.lock(deviceID)
	defer unlock()

	// A reconnect that overtook this follow-up has already reported online.
	current := m.reg.epoch(deviceID) == res.epoch
	if current {
		m.persistStatus(ctx, deviceID, StatusOffline, now, nil)
	}
	m.logEvent(ctx, AuditEvent{
		DeviceID:  deviceID,
		EventType: EventDeviceDisconnected,
		Payload: map[string]any{
			"transport": string(kind),
			"reason":    reason,
		},
		At: now,
	})

	if !current {
		m.logger.Debug("device back online before disconnect was reported", "device_id", deviceID)
		return
	}
	m.notifyOwner(ctx, owner, NotifyDeviceStatus, StatusChange{
		DeviceID:   deviceID,
		Status:     StatusOffline,
		Transports: []TransportKind{},
		Reason:     reason,
		At:         now,
	})
}

// OnHeartbeat refreshes lastSeen and merges metrics. Heartbeats never change
// connection status; one from an unregistered device only feeds telemetry.
func (m *Manager) OnHeartbeat(ctx context.Context, ev HeartbeatEvent) error {
	if ev.DeviceID == "" {
		return fmt.Errorf("%w: heartbeat needs device id", ErrInvalidEvent)
	}

	now := m.opts.Now()
	m.writeTelemetry(ev, now)

	res := m.reg.heartbeat(ev.DeviceID, ev.Kind, ev.Metrics, m.opts.LowBatteryThreshold, now)
	if !res.found {
		m.logger.Debug("heartbeat from unregistered device", "device_id", ev.DeviceID)
		return nil
	}

	unlock := m.order.lock(ev.DeviceID)
	defer unlock()

	if m.reg.epoch(ev.DeviceID) == res.epoch {
		m.persistStatus(ctx, ev.DeviceID, StatusOnline, now, ev.Metrics)
	}

	if res.alert {
		m.logger.Warn("device battery low",
			"device_id", ev.DeviceID,
			"battery_level", res.battery,
			"threshold", m.opts.LowBatteryThreshold,
		)
		m.logEvent(ctx, AuditEvent{
			DeviceID:  ev.DeviceID,
			EventType: EventLowBattery,
			Payload: map[string]any{
				MetricBatteryLevel: res.battery,
				"threshold":        m.opts.LowBatteryThreshold,
			},
			At: now,
		})
		m.notifyOwner(ctx, res.snapshot.OwnerID, NotifyDeviceAlert, DeviceAlert{
			DeviceID:     ev.DeviceID,
			Alert:        EventLowBattery,
			BatteryLevel: res.battery,
			Threshold:    m.opts.LowBatteryThreshold,
			At:           now,
		})
	}
	return nil
}

// RenewBrokerPresence marks broker traffic from a device (e.g. an ack) so
// its broker presence does not expire.
func (m *Manager) RenewBrokerPresence(deviceID string) {
	m.reg.touchBroker(deviceID, m.opts.Now())
}

// =============================================================================
// Acknowledgments
// =============================================================================

// OnAck correlates a device acknowledgment by command id. Acks for unknown
// or already-completed commands are a silent no-op, whatever device they
// come from and whether or not it is still connected.
func (m *Manager) OnAck(ctx context.Context, ev AckEvent) error {
	if ev.CommandID == "" {
		return fmt.Errorf("%w: ack needs command id", ErrInvalidEvent)
	}
	if _, ok := ev.Status.state(); !ok {
		return fmt.Errorf("%w: unknown ack status %q", ErrInvalidEvent, ev.Status)
	}
	m.applyAck(ctx, ev)
	return nil
}

func (m *Manager) applyAck(ctx context.Context, ev AckEvent) {
	res := m.pending.applyAck(ev, m.opts.Now(), m.opts.CommandTimeout, m.onTimer)
	switch {
	case !res.found:
		m.logger.Debug("ack for unknown or completed command",
			"command_id", ev.CommandID,
			"device_id", ev.DeviceID,
			"status", string(ev.Status),
		)
		return
	case res.held:
		m.logger.Debug("ack held until send returns",
			"command_id", ev.CommandID,
			"status", string(ev.Status),
		)
		return
	case !res.changed:
		return
	}

	if res.snapshot.State == StateAcknowledged {
		m.logger.Debug("command acknowledged",
			"command_id", ev.CommandID,
			"device_id", res.snapshot.DeviceID,
			"status", string(ev.Status),
		)
		m.notifyRoom(ctx, res.snapshot.DeviceID, NotifyCommandProgress, outcomeOf(res.snapshot))
		return
	}

	m.complete(ctx, res.snapshot, ev.ErrorMessage, "")
}

// onTimer is the timer callback. expire re-checks state and generation
// under the table lock.
func (m *Manager) onTimer(commandID string, generation uint64) {
	snap, reason, ok := m.pending.expire(commandID, generation, m.opts.Now())
	if !ok {
		return
	}
	m.complete(context.Background(), snap, "", reason)
}

// complete reports a terminal transition. It runs exactly once per command.
func (m *Manager) complete(ctx context.Context, p PendingSnapshot, errMsg, reason string) {
	outcome := outcomeOf(p)
	eventType := EventCommandFailed
	details := map[string]any{
		"command_type": string(p.Type),
		"transport":    string(p.Transport),
		"latency_ms":   p.LastUpdate.Sub(p.SentAt).Milliseconds(),
	}

	switch p.State {
	case StateExecuted:
		m.executed.Add(1)
		eventType = EventCommandExecuted
	case StateFailed:
		m.failed.Add(1)
		if errMsg == "" {
			errMsg = ErrCommandFailed.Error()
		}
		outcome.Error = errMsg
		details["error"] = errMsg
	case StateTimedOut:
		m.timedOut.Add(1)
		outcome.Reason = reason
		outcome.Error = ErrCommandTimedOut.Error()
		details["reason"] = reason
	}

	m.logger.Info("command completed",
		"command_id", p.CommandID,
		"device_id", p.DeviceID,
		"state", string(p.State),
		"reason", reason,
		"error", errMsg,
	)

	m.telemetry.WriteCommandOutcome(p.DeviceID, string(p.Type), string(p.State), p.LastUpdate.Sub(p.SentAt))

	m.logEvent(ctx, AuditEvent{
		DeviceID:  p.DeviceID,
		EventType: eventType,
		CommandID: p.CommandID,
		UserID:    p.IssuedBy,
		Payload:   details,
		At:        p.LastUpdate,
	})
	m.notifyOwner(ctx, p.IssuedBy, NotifyCommandResult, outcome)
}

// =============================================================================
// Presence sweep and lifecycle
// =============================================================================

// Run prunes expired broker presence until ctx is cancelled or Close is called.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.PresenceSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.done:
			return nil
		case <-ticker.C:
			m.sweepPresence(ctx)
		}
	}
}

func (m *Manager) sweepPresence(ctx context.Context) {
	for _, res := range m.reg.expireBroker(m.opts.Now(), m.opts.BrokerPresenceTTL) {
		m.afterUnregister(ctx, res.snapshot.DeviceID, TransportBroker, ReasonPresenceExpired, res)
	}
}

// Close stops all command timers and drops pending commands. Dispatch fails
// with ErrDispatchFailed afterwards.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		dropped := m.pending.close()
		close(m.done)
		m.logger.Info("dispatch manager closed", "dropped_commands", dropped)
	})
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// GetStatus returns the device's connection snapshot, if connected.
func (m *Manager) GetStatus(deviceID string) (ConnectionSnapshot, bool) {
	return m.reg.get(deviceID)
}

// ListConnected returns all connected devices ordered by id.
func (m *Manager) ListConnected() []ConnectionSnapshot {
	return m.reg.list()
}

// IsOnline reports whether the device has at least one live transport.
func (m *Manager) IsOnline(deviceID string) bool {
	_, ok := m.reg.get(deviceID)
	return ok
}

// HasTransport reports whether the given transport is live for the device.
func (m *Manager) HasTransport(deviceID string, kind TransportKind) bool {
	s, ok := m.reg.get(deviceID)
	return ok && s.HasTransport(kind)
}

// GetCommand returns a live command. Terminal commands are not retained.
func (m *Manager) GetCommand(commandID string) (PendingSnapshot, bool) {
	return m.pending.get(commandID)
}

// ListPending returns live commands, for one device or all if deviceID is empty.
func (m *Manager) ListPending(deviceID string) []PendingSnapshot {
	return m.pending.list(deviceID)
}

// Stats returns current counts and lifetime counters.
func (m *Manager) Stats() Stats {
	devices, sessions, brokers := m.reg.counts()
	return Stats{
		Connected:         devices,
		SessionTransports: sessions,
		BrokerTransports:  brokers,
		Pending:           m.pending.count(),
		Dispatched:        m.dispatched.Load(),
		Executed:          m.executed.Load(),
		Failed:            m.failed.Load(),
		TimedOut:          m.timedOut.Load(),
	}
}

// =============================================================================
// Collaborator calls (never under a table lock; errors are logged only)
// =============================================================================

// deviceLocks orders the status follow-ups (persist, audit, notify) of one
// device. It is striped, so unrelated devices only rarely share a slot. It
// is never held together with the registry or pending table locks.
type deviceLocks [64]sync.Mutex

func (l *deviceLocks) lock(deviceID string) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(deviceID)) //nolint:errcheck // hash writes never fail
	mu := &l[h.Sum32()%uint32(len(l))]
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) sinkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.opts.SinkTimeout)
}

func (m *Manager) lookupOwner(ctx context.Context, deviceID string) string {
	sctx, cancel := m.sinkContext(ctx)
	defer cancel()
	owner, err := m.dir.FindOwner(sctx, deviceID)
	if err != nil {
		m.logger.Warn("owner lookup failed", "device_id", deviceID, "error", err)
		return ""
	}
	return owner
}

func (m *Manager) persistStatus(ctx context.Context, deviceID string, status Status, lastSeen time.Time, patch map[string]any) {
	sctx, cancel := m.sinkContext(ctx)
	defer cancel()
	if err := m.dir.UpdateStatus(sctx, deviceID, status, lastSeen, patch); err != nil {
		m.logger.Warn("device status persist failed",
			"device_id", deviceID,
			"status", string(status),
			"error", err,
		)
	}
}

func (m *Manager) logEvent(ctx context.Context, ev AuditEvent) {
	sctx, cancel := m.sinkContext(ctx)
	defer cancel()
	if err := m.audit.LogEvent(sctx, ev); err != nil {
		m.logger.Warn("audit event failed",
			"device_id", ev.DeviceID,
			"event", ev.EventType,
			"error", err,
		)
	}
}

func (m *Manager) notifyOwner(ctx context.Context, ownerID, event string, data any) {
	if ownerID == "" {
		m.logger.Debug("no owner to notify", "event", event)
		return
	}
	sctx, cancel := m.sinkContext(ctx)
	defer cancel()
	if err := m.notifier.NotifyOwner(sctx, ownerID, event, data); err != nil {
		m.logger.Warn("owner notification failed", "owner_id", ownerID, "event", event, "error", err)
	}
}

func (m *Manager) notifyRoom(ctx context.Context, deviceID, event string, data any) {
	sctx, cancel := m.sinkContext(ctx)
	defer cancel()
	if err := m.notifier.NotifyDeviceRoom(sctx, deviceID, event, data); err != nil {
		m.logger.Warn("device room notification failed", "device_id", deviceID, "event", event, "error", err)
	}
}

func (m *Manager) writeTelemetry(ev HeartbeatEvent, now time.Time) {
	fields := make(map[string]float64, len(ev.Metrics))
	for k, v := range ev.Metrics {
		if f, ok := numeric(v); ok {
			fields[k] = f
		}
	}
	if len(fields) > 0 {
		m.telemetry.WriteHeartbeat(ev.DeviceID, string(ev.Kind), fields, now)
	}
}
