package dispatch

import (
	"sort"
	"sync"
	"time"
)

// connection is the registry record for one device. It exists only while
// session or broker is non-nil.
type connection struct {
	deviceID    string
	session     *SessionHandle
	broker      *BrokerHandle
	brokerSeen  time.Time
	connectedAt time.Time
	lastSeen    time.Time
	metadata    map[string]any
	ownerID     string
	lowBattery  bool
}

func (c *connection) empty() bool {
	return c.session == nil && c.broker == nil
}

func (c *connection) snapshot() ConnectionSnapshot {
	s := ConnectionSnapshot{
		DeviceID:    c.deviceID,
		Status:      StatusOnline,
		OwnerID:     c.ownerID,
		ConnectedAt: c.connectedAt,
		LastSeen:    c.lastSeen,
		Metadata:    cloneMetadata(c.metadata),
		Transports:  make([]TransportKind, 0, 2), //nolint:mnd // two transport kinds
	}
	if c.session != nil {
		s.Transports = append(s.Transports, TransportSession)
	}
	if c.broker != nil {
		s.Transports = append(s.Transports, TransportBroker)
	}
	if c.empty() {
		s.Status = StatusOffline
	}
	return s
}

// registry is the connection table. Every method holds mu for the in-memory
// mutation only and returns copies.
type registry struct {
	mu    sync.Mutex
	conns map[string]*connection
	// epochs counts online/offline transitions per device. It outlives the
	// record so a follow-up that lost a race can see it is stale.
	epochs map[string]uint64
}

func newRegistry() *registry {
	return &registry{
		conns:  make(map[string]*connection),
		epochs: make(map[string]uint64),
	}
}

// epoch returns the device's current transition count.
func (r *registry) epoch(deviceID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epochs[deviceID]
}

type registerResult struct {
	snapshot ConnectionSnapshot
	epoch    uint64
	// created is true when the device went from offline to online.
	created bool
	// attached is true when a transport kind that was absent is now live.
	attached bool
	// needsOwner is true while the owner has not been cached yet.
	needsOwner bool
}

// validHandle reports whether h is a non-nil handle of a known kind.
func validHandle(h Handle) bool {
	switch h := h.(type) {
	case *SessionHandle:
		return h != nil && h.sender != nil
	case *BrokerHandle:
		return h != nil && h.publisher != nil
	}
	return false
}

// register inserts or refreshes the device's handle of h's kind. A new
// handle of an already-present kind replaces the old one. h must pass
// validHandle.
func (r *registry) register(deviceID string, h Handle, metadata map[string]any, now time.Time) registerResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res registerResult
	c, ok := r.conns[deviceID]
	if !ok {
		c = &connection{
			deviceID:    deviceID,
			connectedAt: now,
			metadata:    make(map[string]any),
		}
		r.conns[deviceID] = c
		r.epochs[deviceID]++
		res.created = true
	}
	res.epoch = r.epochs[deviceID]

	switch handle := h.(type) {
	case *SessionHandle:
		res.attached = c.session == nil
		c.session = handle
	case *BrokerHandle:
		res.attached = c.broker == nil
		c.broker = handle
		c.brokerSeen = now
	}

	for k, v := range metadata {
		c.metadata[k] = v
	}
	c.lastSeen = now
	res.needsOwner = c.ownerID == ""
	res.snapshot = c.snapshot()
	return res
}

// setOwner caches the owner id if the device is still registered.
func (r *registry) setOwner(deviceID, ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[deviceID]; ok {
		c.ownerID = ownerID
	}
}

type unregisterResult struct {
	snapshot ConnectionSnapshot
	epoch    uint64
	// removed is true when a handle was actually dropped.
	removed bool
	// deleted is true when that was the last handle and the record is gone.
	deleted bool
}

// unregister drops the handle of the given kind. If expect is non-nil the
// handle is dropped only if it is still the registered one.
func (r *registry) unregister(deviceID string, kind TransportKind, expect Handle) unregisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[deviceID]
	if !ok {
		return unregisterResult{}
	}
	if !c.detach(kind, expect) {
		return unregisterResult{snapshot: c.snapshot()}
	}
	return r.finishDetach(c)
}

// detach clears one handle. Caller holds mu.
func (c *connection) detach(kind TransportKind, expect Handle) bool {
	switch kind {
	case TransportSession:
		if c.session == nil || (expect != nil && Handle(c.session) != expect) {
			return false
		}
		c.session = nil
	case TransportBroker:
		if c.broker == nil || (expect != nil && Handle(c.broker) != expect) {
			return false
		}
		c.broker = nil
		c.brokerSeen = time.Time{}
	default:
		return false
	}
	return true
}

// finishDetach deletes the record if it has no handles left. Caller holds mu.
func (r *registry) finishDetach(c *connection) unregisterResult {
	res := unregisterResult{removed: true, snapshot: c.snapshot()}
	if c.empty() {
		delete(r.conns, c.deviceID)
		r.epochs[c.deviceID]++
		res.deleted = true
	}
	res.epoch = r.epochs[c.deviceID]
	return res
}

type heartbeatResult struct {
	snapshot ConnectionSnapshot
	epoch    uint64
	found    bool
	// alert is true when battery crossed below the threshold on this beat.
	alert   bool
	battery float64
}

// heartbeat refreshes lastSeen and merges metrics. A broker heartbeat also
// renews broker presence.
func (r *registry) heartbeat(deviceID string, kind TransportKind, metrics map[string]any, threshold float64, now time.Time) heartbeatResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[deviceID]
	if !ok {
		return heartbeatResult{}
	}

	for k, v := range metrics {
		c.metadata[k] = v
	}
	c.lastSeen = now
	if kind == TransportBroker && c.broker != nil {
		c.brokerSeen = now
	}

	res := heartbeatResult{found: true, epoch: r.epochs[deviceID]}
	if level, ok := numeric(metrics[MetricBatteryLevel]); ok && threshold > 0 {
		res.battery = level
		switch {
		case level < threshold && !c.lowBattery:
			c.lowBattery = true
			res.alert = true
		case level >= threshold:
			c.lowBattery = false
		}
	}
	res.snapshot = c.snapshot()
	return res
}

// touchBroker renews broker presence without merging metrics.
func (r *registry) touchBroker(deviceID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[deviceID]; ok && c.broker != nil {
		c.brokerSeen = now
		c.lastSeen = now
	}
}

// expireBroker drops broker handles not renewed since now-ttl.
func (r *registry) expireBroker(now time.Time, ttl time.Duration) []unregisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []unregisterResult
	cutoff := now.Add(-ttl)
	for _, c := range r.conns {
		if c.broker == nil || !c.brokerSeen.Before(cutoff) {
			continue
		}
		c.detach(TransportBroker, nil)
		out = append(out, r.finishDetach(c))
	}
	return out
}

// selectHandle returns the session handle if live, else the broker handle.
func (r *registry) selectHandle(deviceID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[deviceID]
	if !ok {
		return nil, false
	}
	if c.session != nil {
		return c.session, true
	}
	if c.broker != nil {
		return c.broker, true
	}
	return nil, false
}

func (r *registry) get(deviceID string) (ConnectionSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[deviceID]
	if !ok {
		return ConnectionSnapshot{}, false
	}
	return c.snapshot(), true
}

func (r *registry) list() []ConnectionSnapshot {
	r.mu.Lock()
	out := make([]ConnectionSnapshot, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.snapshot())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// counts returns connected devices and live handles per kind.
func (r *registry) counts() (devices, sessions, brokers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.session != nil {
			sessions++
		}
		if c.broker != nil {
			brokers++
		}
	}
	return len(r.conns), sessions, brokers
}

// numeric converts JSON-decoded numbers to float64.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint8:
		return float64(n), true
	}
	return 0, false
}
