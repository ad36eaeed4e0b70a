package dispatch

import (
	"sort"
	"sync"
	"time"
)

// pendingCommand is a live command. timer is nil until armed.
type pendingCommand struct {
	PendingSnapshot
	timer *time.Timer
	// generation is bumped on every (re)arm; a firing timer whose generation
	// no longer matches is stale and does nothing.
	generation uint64
	// sending is true until the transport send returns. Acks that arrive
	// meanwhile wait in held and are replayed by markSent.
	sending bool
	held    []AckEvent
}

// pendingTable is the command table. Timer callbacks re-check state under
// mu, so a timer that fires concurrently with a terminal ack is harmless
// even if Stop lost the race.
type pendingTable struct {
	mu     sync.Mutex
	cmds   map[string]*pendingCommand
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{cmds: make(map[string]*pendingCommand)}
}

// insert adds an unarmed command in state sent, with its send still in
// progress. It returns false after close.
func (t *pendingTable) insert(s PendingSnapshot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.cmds[s.CommandID] = &pendingCommand{PendingSnapshot: s, sending: true}
	return true
}

// remove drops a command without a terminal transition (failed send). Any
// held acks go with it.
func (t *pendingTable) remove(commandID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.cmds[commandID]; ok {
		stopTimer(p)
		delete(t.cmds, commandID)
	}
}

// markSent ends the send phase: it starts the timer unless already armed
// and returns the acks held while sending, in arrival order. fire is called
// with the generation captured here.
func (t *pendingTable) markSent(commandID string, d time.Duration, fire func(commandID string, generation uint64)) []AckEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.cmds[commandID]
	if !ok || t.closed {
		return nil
	}
	held := p.held
	p.held = nil
	p.sending = false
	if p.timer == nil {
		t.rearmLocked(p, d, fire)
	}
	return held
}

func (t *pendingTable) rearmLocked(p *pendingCommand, d time.Duration, fire func(string, uint64)) {
	stopTimer(p)
	p.generation++
	id, gen := p.CommandID, p.generation
	p.timer = time.AfterFunc(d, func() { fire(id, gen) })
}

type ackResult struct {
	snapshot PendingSnapshot
	found    bool
	// changed is true when the state moved (acknowledged or terminal).
	changed bool
	// held is true when the ack was queued behind an unfinished send.
	held bool
}

// applyAck transitions the command for an ack. Intermediate acks re-arm the
// timer; terminal acks stop it and remove the command. While the send is
// still in progress the ack is only queued.
func (t *pendingTable) applyAck(ev AckEvent, now time.Time, d time.Duration, fire func(string, uint64)) ackResult {
	next, ok := ev.Status.state()
	if !ok {
		return ackResult{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, found := t.cmds[ev.CommandID]
	if !found {
		return ackResult{}
	}

	if p.sending {
		p.held = append(p.held, ev)
		return ackResult{found: true, held: true}
	}

	res := ackResult{found: true}
	p.LastUpdate = now
	if next == StateAcknowledged {
		res.changed = p.State != StateAcknowledged
		p.State = StateAcknowledged
		if !t.closed {
			t.rearmLocked(p, d, fire)
		}
		res.snapshot = p.snapshotCopy()
		return res
	}

	stopTimer(p)
	p.State = next
	delete(t.cmds, ev.CommandID)
	res.changed = true
	res.snapshot = p.snapshotCopy()
	return res
}

// expire moves the command to timed_out if generation is still current and
// the command is not terminal. reason reflects whether any ack was seen.
func (t *pendingTable) expire(commandID string, generation uint64, now time.Time) (PendingSnapshot, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.cmds[commandID]
	if !ok || p.generation != generation || p.State.Terminal() {
		return PendingSnapshot{}, "", false
	}

	reason := ReasonTimeout
	if p.State == StateAcknowledged {
		reason = ReasonExecutionTimeout
	}
	p.State = StateTimedOut
	p.LastUpdate = now
	p.timer = nil
	delete(t.cmds, commandID)
	return p.snapshotCopy(), reason, true
}

func (t *pendingTable) get(commandID string) (PendingSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.cmds[commandID]
	if !ok {
		return PendingSnapshot{}, false
	}
	return p.snapshotCopy(), true
}

// list returns live commands, optionally for one device, oldest first.
func (t *pendingTable) list(deviceID string) []PendingSnapshot {
	t.mu.Lock()
	out := make([]PendingSnapshot, 0, len(t.cmds))
	for _, p := range t.cmds {
		if deviceID == "" || p.DeviceID == deviceID {
			out = append(out, p.snapshotCopy())
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].CommandID < out[j].CommandID
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}

func (t *pendingTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cmds)
}

// close stops every timer and drops all live commands.
func (t *pendingTable) close() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.cmds)
	for id, p := range t.cmds {
		stopTimer(p)
		delete(t.cmds, id)
	}
	t.closed = true
	return n
}

func (p *pendingCommand) snapshotCopy() PendingSnapshot {
	s := p.PendingSnapshot
	s.Payload = cloneMetadata(s.Payload)
	return s
}

func stopTimer(p *pendingCommand) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
