package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Collaborator mocks
// =============================================================================

type statusUpdate struct {
	deviceID string
	status   Status
	patch    map[string]any
}

type mockDirectory struct {
	mu       sync.Mutex
	owners   map[string]string
	updates  []statusUpdate
	failAll  bool
	ownerErr error

	// Hooks run before the call is recorded. Set them before the calls
	// they intercept can start.
	onUpdate    func(deviceID string, status Status)
	onFindOwner func(deviceID string)
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{owners: map[string]string{}}
}

func (d *mockDirectory) UpdateStatus(_ context.Context, deviceID string, status Status, _ time.Time, patch map[string]any) error {
	if d.onUpdate != nil {
		d.onUpdate(deviceID, status)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, statusUpdate{deviceID: deviceID, status: status, patch: patch})
	if d.failAll {
		return errors.New("directory unavailable")
	}
	return nil
}

func (d *mockDirectory) FindOwner(_ context.Context, deviceID string) (string, error) {
	if d.onFindOwner != nil {
		d.onFindOwner(deviceID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ownerErr != nil {
		return "", d.ownerErr
	}
	return d.owners[deviceID], nil
}

func (d *mockDirectory) lastStatus(deviceID string) (Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.updates) - 1; i >= 0; i-- {
		if d.updates[i].deviceID == deviceID {
			return d.updates[i].status, true
		}
	}
	return "", false
}

type mockAudit struct {
	mu     sync.Mutex
	events []AuditEvent
	fail   bool
}

func (a *mockAudit) LogEvent(_ context.Context, ev AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	if a.fail {
		return errors.New("audit store down")
	}
	return nil
}

// count returns the number of events of the given type, optionally for one command.
func (a *mockAudit) count(eventType, commandID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, ev := range a.events {
		if ev.EventType == eventType && (commandID == "" || ev.CommandID == commandID) {
			n++
		}
	}
	return n
}

// index returns the position of the first matching event, or -1.
func (a *mockAudit) index(eventType, commandID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, ev := range a.events {
		if ev.EventType == eventType && (commandID == "" || ev.CommandID == commandID) {
			return i
		}
	}
	return -1
}

func (a *mockAudit) find(eventType, commandID string) (AuditEvent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ev := range a.events {
		if ev.EventType == eventType && (commandID == "" || ev.CommandID == commandID) {
			return ev, true
		}
	}
	return AuditEvent{}, false
}

type notification struct {
	target string
	room   bool
	event  string
	data   any
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []notification
	fail bool
}

func (n *mockNotifier) NotifyOwner(_ context.Context, ownerID, event string, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{target: ownerID, event: event, data: data})
	if n.fail {
		return errors.New("hub closed")
	}
	return nil
}

func (n *mockNotifier) NotifyDeviceRoom(_ context.Context, deviceID, event string, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{target: deviceID, room: true, event: event, data: data})
	if n.fail {
		return errors.New("hub closed")
	}
	return nil
}

// lastStatus returns the most recent device_status for deviceID.
func (n *mockNotifier) lastStatus(deviceID string) (Status, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if sc, ok := n.sent[i].data.(StatusChange); ok && n.sent[i].event == NotifyDeviceStatus && sc.DeviceID == deviceID {
			return sc.Status, true
		}
	}
	return "", false
}

func (n *mockNotifier) byEvent(event string) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification
	for _, s := range n.sent {
		if s.event == event {
			out = append(out, s)
		}
	}
	return out
}

type mockTelemetry struct {
	mu         sync.Mutex
	heartbeats []map[string]float64
	outcomes   []string
}

func (m *mockTelemetry) WriteHeartbeat(_, _ string, fields map[string]float64, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats = append(m.heartbeats, fields)
}

func (m *mockTelemetry) WriteCommandOutcome(_, _, state string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, state)
}

// =============================================================================
// Transport mocks
// =============================================================================

type sentCommand struct {
	event string
	msg   CommandMessage
}

type mockSession struct {
	mu     sync.Mutex
	sent   []sentCommand
	err    error
	onSend func(CommandMessage)
}

func (s *mockSession) Send(_ context.Context, event string, payload any) error {
	msg, _ := payload.(CommandMessage)
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return s.err
	}
	s.sent = append(s.sent, sentCommand{event: event, msg: msg})
	hook := s.onSend
	s.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (s *mockSession) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type published struct {
	topic   string
	payload []byte
}

type mockPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
	// onPublish runs before err is returned, like a broker that delivered
	// the message although the local wait failed.
	onPublish func(payload []byte)
}

func (p *mockPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	if p.onPublish != nil {
		p.onPublish(payload)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: payload})
	return nil
}

func (p *mockPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

// =============================================================================
// Helpers
// =============================================================================

type fixture struct {
	m         *Manager
	dir       *mockDirectory
	audit     *mockAudit
	notifier  *mockNotifier
	telemetry *mockTelemetry
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		dir:       newMockDirectory(),
		audit:     &mockAudit{},
		notifier:  &mockNotifier{},
		telemetry: &mockTelemetry{},
	}
	f.m = New(f.dir, f.audit, f.notifier, opts)
	f.m.SetTelemetry(f.telemetry)
	t.Cleanup(func() { f.m.Close() }) //nolint:errcheck // Test cleanup
	return f
}

func (f *fixture) connectSession(t *testing.T, deviceID string) (*mockSession, *SessionHandle) {
	t.Helper()
	s := &mockSession{}
	h := NewSessionHandle(s)
	if err := f.m.OnTransportConnect(context.Background(), ConnectEvent{DeviceID: deviceID, Handle: h}); err != nil {
		t.Fatalf("OnTransportConnect(session) error = %v", err)
	}
	return s, h
}

func (f *fixture) connectBroker(t *testing.T, deviceID string) (*mockPublisher, *BrokerHandle) {
	t.Helper()
	p := &mockPublisher{}
	h := NewBrokerHandle(p, "doorlock/device/"+deviceID+"/command")
	if err := f.m.OnTransportConnect(context.Background(), ConnectEvent{DeviceID: deviceID, Handle: h}); err != nil {
		t.Fatalf("OnTransportConnect(broker) error = %v", err)
	}
	return p, h
}

// waitFor polls cond until it is true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
