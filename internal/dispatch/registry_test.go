package dispatch

import (
	"testing"
	"time"
)

func TestRegistry_OnlineIffHandle(t *testing.T) {
	r := newRegistry()
	now := time.Now()
	sh := NewSessionHandle(&mockSession{})
	bh := NewBrokerHandle(&mockPublisher{}, "t")

	res := r.register("lock", sh, nil, now)
	if !res.created || !res.attached || !res.needsOwner {
		t.Errorf("first register = %+v", res)
	}
	res = r.register("lock", bh, nil, now)
	if res.created || !res.attached {
		t.Errorf("second kind register = %+v", res)
	}

	if u := r.unregister("lock", TransportSession, nil); !u.removed || u.deleted {
		t.Errorf("unregister session = %+v", u)
	}
	if _, ok := r.get("lock"); !ok {
		t.Fatal("record removed while broker handle live")
	}
	if u := r.unregister("lock", TransportBroker, nil); !u.removed || !u.deleted {
		t.Errorf("unregister broker = %+v", u)
	}
	if _, ok := r.get("lock"); ok {
		t.Error("record with no handles still present")
	}
	if u := r.unregister("lock", TransportBroker, nil); u.removed {
		t.Error("unregister on absent device reported removal")
	}
}

func TestRegistry_UnregisterWrongHandleKind(t *testing.T) {
	r := newRegistry()
	sh := NewSessionHandle(&mockSession{})
	r.register("lock", sh, nil, time.Now())

	// A broker handle can never match the session slot.
	if u := r.unregister("lock", TransportSession, NewBrokerHandle(&mockPublisher{}, "t")); u.removed {
		t.Error("mismatched handle removed the session")
	}
	if u := r.unregister("lock", TransportSession, sh); !u.removed {
		t.Error("matching handle not removed")
	}
}

func TestRegistry_SelectHandle(t *testing.T) {
	r := newRegistry()
	now := time.Now()
	sh := NewSessionHandle(&mockSession{})
	bh := NewBrokerHandle(&mockPublisher{}, "t")

	if _, ok := r.selectHandle("lock"); ok {
		t.Fatal("selectHandle on empty registry")
	}

	r.register("lock", bh, nil, now)
	if h, _ := r.selectHandle("lock"); h != Handle(bh) {
		t.Errorf("selectHandle = %v, want broker", h)
	}

	r.register("lock", sh, nil, now)
	if h, _ := r.selectHandle("lock"); h != Handle(sh) {
		t.Errorf("selectHandle = %v, want session", h)
	}
}

func TestRegistry_SetOwnerAfterDelete(t *testing.T) {
	r := newRegistry()
	r.register("lock", NewSessionHandle(&mockSession{}), nil, time.Now())
	r.unregister("lock", TransportSession, nil)

	r.setOwner("lock", "owner") // must not resurrect the record
	if _, ok := r.get("lock"); ok {
		t.Error("setOwner recreated a deleted record")
	}
}

func TestRegistry_LowBatteryDisabled(t *testing.T) {
	r := newRegistry()
	r.register("lock", NewSessionHandle(&mockSession{}), nil, time.Now())

	res := r.heartbeat("lock", TransportSession, map[string]any{MetricBatteryLevel: 1.0}, -1, time.Now())
	if res.alert {
		t.Error("alert raised with threshold disabled")
	}
}

func TestRegistry_Counts(t *testing.T) {
	r := newRegistry()
	now := time.Now()
	r.register("a", NewSessionHandle(&mockSession{}), nil, now)
	r.register("b", NewBrokerHandle(&mockPublisher{}, "t"), nil, now)
	r.register("b", NewSessionHandle(&mockSession{}), nil, now)

	devices, sessions, brokers := r.counts()
	if devices != 2 || sessions != 2 || brokers != 1 {
		t.Errorf("counts() = %d, %d, %d; want 2, 2, 1", devices, sessions, brokers)
	}

	list := r.list()
	if len(list) != 2 || list[0].DeviceID != "a" || list[1].DeviceID != "b" {
		t.Errorf("list() not sorted: %+v", list)
	}
}

func TestNumeric(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{42.5, 42.5, true},
		{float32(1.5), 1.5, true},
		{7, 7, true},
		{int64(-3), -3, true},
		{"80", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := numeric(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("numeric(%v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRegistry_EpochCountsTransitions(t *testing.T) {
	r := newRegistry()
	now := time.Now()
	sh := NewSessionHandle(&mockSession{})
	bh := NewBrokerHandle(&mockPublisher{}, "t")

	steps := []struct {
		name string
		do   func() uint64
		want uint64
	}{
		{"first connect goes online", func() uint64 { return r.register("lock", sh, nil, now).epoch }, 1},
		{"second transport keeps epoch", func() uint64 { return r.register("lock", bh, nil, now).epoch }, 1},
		{"heartbeat keeps epoch", func() uint64 { return r.heartbeat("lock", TransportBroker, nil, 0, now).epoch }, 1},
		{"one transport left keeps epoch", func() uint64 { return r.unregister("lock", TransportSession, sh).epoch }, 1},
		{"last transport goes offline", func() uint64 { return r.unregister("lock", TransportBroker, bh).epoch }, 2},
		{"reconnect goes online again", func() uint64 { return r.register("lock", sh, nil, now).epoch }, 3},
	}

	for _, step := range steps {
		if got := step.do(); got != step.want {
			t.Errorf("%s: epoch = %d, want %d", step.name, got, step.want)
		}
		if got := r.epoch("lock"); got != step.want {
			t.Errorf("%s: current epoch = %d, want %d", step.name, got, step.want)
		}
	}
	if got := r.epoch("never-seen"); got != 0 {
		t.Errorf("epoch(unknown) = %d, want 0", got)
	}
}

func TestValidHandle(t *testing.T) {
	tests := []struct {
		name string
		h    Handle
		want bool
	}{
		{"session", NewSessionHandle(&mockSession{}), true},
		{"broker", NewBrokerHandle(&mockPublisher{}, "t"), true},
		{"nil interface", nil, false},
		{"typed nil session", (*SessionHandle)(nil), false},
		{"typed nil broker", (*BrokerHandle)(nil), false},
		{"session without sender", NewSessionHandle(nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validHandle(tt.h); got != tt.want {
				t.Errorf("validHandle() = %v, want %v", got, tt.want)
			}
		})
	}
}
