package dcd

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbd/device/periph/sim"
)

// recorder collects upstream events. hook, when set, runs inside the
// interrupt handler after the event is recorded.
type recorder struct {
	mutex  sync.Mutex
	events []Event
	hook   func(Event)
}

func (r *recorder) HandleEvent(ev Event) {
	r.mutex.Lock()
	r.events = append(r.events, ev)
	hook := r.hook
	r.mutex.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recorder) all() []Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) ofKind(k EventKind) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) clear() {
	r.mutex.Lock()
	r.events = nil
	r.mutex.Unlock()
}

type bench struct {
	c   *Controller
	u   *sim.USBD
	rec *recorder
}

// newBench returns an initialized controller on a simulated peripheral with
// interrupts enabled.
func newBench(t *testing.T, cfg Config) *bench {
	t.Helper()
	eff := cfg.withDefaults()
	u := sim.New(sim.Config{BufferSize: eff.BufferSize})
	rec := &recorder{}
	c := New(u, u, rec, cfg)
	u.Attach(c.ISR)
	require.NoError(t, c.Init())
	c.InterruptEnable()
	return &bench{c: c, u: u, rec: rec}
}

// reset drives a bus reset and forgets the resulting event.
func (b *bench) reset(t *testing.T) {
	t.Helper()
	b.u.BusReset()
	require.Len(t, b.rec.ofKind(EventBusReset), 1)
	b.rec.clear()
}

func (b *bench) open(t *testing.T, addr uint8, typ uint8, size uint16) int {
	t.Helper()
	slot, err := b.c.EndpointOpen(EndpointDescriptor{
		Address:       addr,
		Attributes:    typ,
		MaxPacketSize: size,
	})
	require.NoError(t, err)
	return slot
}

func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*7 + 1)
	}
	return buf
}
