package scenario

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ardnew/usbd/device/dcd"
	"github.com/ardnew/usbd/device/periph/sim"
	"github.com/ardnew/usbd/pkg"
)

var (
	// ErrInvalidScenario is returned for scenarios that cannot be decoded
	// or name unknown operations.
	ErrInvalidScenario = errors.New("invalid scenario")

	// ErrExpectation is returned when a step's expectation does not hold.
	ErrExpectation = errors.New("expectation failed")
)

// errorNames maps the Error field of a step to the error it expects.
var errorNames = map[string]error{
	"nak":               pkg.ErrNAK,
	"stall":             pkg.ErrStall,
	"no_device":         pkg.ErrNoDevice,
	"overrun":           pkg.ErrOverrun,
	"busy":              pkg.ErrBusy,
	"invalid_endpoint":  pkg.ErrInvalidEndpoint,
	"invalid_parameter": pkg.ErrInvalidParameter,
	"no_memory":         pkg.ErrNoMemory,
	"no_free_slot":      pkg.ErrNoFreeSlot,
}

var ops = map[string]func(*Runner, *Step) error{
	"vbus":           (*Runner).vbus,
	"reset":          func(r *Runner, _ *Step) error { r.u.BusReset(); return nil },
	"suspend":        func(r *Runner, _ *Step) error { r.u.Suspend(); return nil },
	"resume":         func(r *Runner, _ *Step) error { r.u.Resume(); return nil },
	"wakeup":         func(r *Runner, _ *Step) error { r.c.RemoteWakeup(); return nil },
	"sof":            (*Runner).sof,
	"setup":          (*Runner).setup,
	"open":           (*Runner).open,
	"transfer":       (*Runner).transfer,
	"stall":          (*Runner).stall,
	"clear_stall":    (*Runner).clearStall,
	"set_address":    func(r *Runner, st *Step) error { r.c.SetAddress(uint8(st.Value)); return nil },
	"set_config":     func(r *Runner, st *Step) error { r.c.SetConfiguration(uint8(st.Value)); return nil },
	"in":             (*Runner).in,
	"out":            (*Runner).out,
	"expect_event":   (*Runner).expectEvent,
	"expect_none":    (*Runner).expectNone,
	"expect_address": (*Runner).expectAddress,
	"expect_state":   (*Runner).expectState,
}

// Record kinds.
const (
	RecordEvent  = "event"  // upstream event from the controller
	RecordPacket = "packet" // data packet seen by the host
	RecordError  = "error"  // expected failure of a host or device action
)

// Record is one entry of a scenario trace.
type Record struct {
	Step   int    `yaml:"step" json:"step"`
	Op     string `yaml:"op" json:"op"`
	Kind   string `yaml:"kind" json:"kind"`
	Event  string `yaml:"event,omitempty" json:"event,omitempty"`
	EP     string `yaml:"ep,omitempty" json:"ep,omitempty"`
	Length int    `yaml:"length,omitempty" json:"length,omitempty"`
	Actual int    `yaml:"actual,omitempty" json:"actual,omitempty"`
	Data   string `yaml:"data,omitempty" json:"data,omitempty"`
	Data1  bool   `yaml:"data1,omitempty" json:"data1,omitempty"`
	Error  string `yaml:"error,omitempty" json:"error,omitempty"`
}

func (rec Record) String() string {
	s := fmt.Sprintf("%3d %-14s %-6s", rec.Step, rec.Op, rec.Kind)
	if rec.Event != "" {
		s += " " + rec.Event
	}
	if rec.EP != "" {
		s += " ep=" + rec.EP
	}
	switch rec.Kind {
	case RecordPacket:
		pid := "DATA0"
		if rec.Data1 {
			pid = "DATA1"
		}
		s += fmt.Sprintf(" %s len=%d", pid, rec.Length)
	case RecordEvent:
		if rec.Event == dcd.EventTransferComplete.String() {
			s += fmt.Sprintf(" len=%d actual=%d", rec.Length, rec.Actual)
		}
	case RecordError:
		s += " " + rec.Error
	}
	if rec.Data != "" {
		s += " [" + rec.Data + "]"
	}
	return s
}

// Result is the outcome of a scenario run.
type Result struct {
	Name  string   `yaml:"name" json:"name"`
	Steps int      `yaml:"steps" json:"steps"` // steps completed
	Trace []Record `yaml:"trace" json:"trace"`
}

// Runner executes a scenario against a simulated controller.
type Runner struct {
	s *Scenario
	u *sim.USBD
	c *dcd.Controller

	step    int
	op      string
	pending []dcd.Event
	outBufs map[uint8][]byte
	trace   []Record
}

// NewRunner creates a simulated controller for s and initializes its driver.
func NewRunner(s *Scenario) (*Runner, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	cfg, err := s.Config.Controller()
	if err != nil {
		return nil, err
	}
	eff := dcd.DefaultConfigFor(cfg.Variant)
	if cfg.BufferSize != 0 {
		eff.BufferSize = cfg.BufferSize
	}

	r := &Runner{
		s:       s,
		u:       sim.New(sim.Config{BufferSize: eff.BufferSize}),
		outBufs: make(map[uint8][]byte),
	}
	r.c = dcd.New(r.u, r.u, r, cfg)
	r.u.Attach(r.c.ISR)
	if err := r.c.Init(); err != nil {
		return nil, fmt.Errorf("init controller: %w", err)
	}
	r.c.InterruptEnable()
	return r, nil
}

// Controller returns the driver under test.
func (r *Runner) Controller() *dcd.Controller { return r.c }

// Peripheral returns the simulated controller.
func (r *Runner) Peripheral() *sim.USBD { return r.u }

// HandleEvent implements dcd.Handler.
func (r *Runner) HandleEvent(ev dcd.Event) {
	r.pending = append(r.pending, ev)
	rec := Record{Step: r.step, Op: r.op, Kind: RecordEvent, Event: ev.Kind.String()}
	switch ev.Kind {
	case dcd.EventTransferComplete:
		rec.EP = fmt.Sprintf("0x%02X", ev.Address)
		rec.Length = ev.Length
		rec.Actual = ev.Actual
	case dcd.EventSetupReceived:
		rec.Data = fmt.Sprintf("% x", ev.Setup[:])
	}
	r.trace = append(r.trace, rec)
	pkg.LogDebug(pkg.ComponentScenario, "event", "step", r.step, "event", ev.String())
}

// Run executes every step and stops at the first failure.
func (r *Runner) Run() (*Result, error) {
	res := &Result{Name: r.s.Name}
	defer func() { res.Trace = r.trace }()

	for i := range r.s.Steps {
		st := &r.s.Steps[i]
		r.step, r.op = i+1, st.Op
		pkg.LogDebug(pkg.ComponentScenario, "step", "scenario", r.s.Name, "step", r.step, "op", st.Op)
		if err := ops[st.Op](r, st); err != nil {
			return res, fmt.Errorf("%s: step %d (%s): %w", r.s.Name, r.step, st.Op, err)
		}
		res.Steps++
	}
	pkg.LogInfo(pkg.ComponentScenario, "scenario passed", "scenario", r.s.Name, "steps", res.Steps)
	return res, nil
}

// Run executes s on a fresh simulated controller.
func Run(s *Scenario) (*Result, error) {
	r, err := NewRunner(s)
	if err != nil {
		return &Result{Name: s.Name}, err
	}
	return r.Run()
}

// check compares the outcome of an action with the step's Error field.
func (r *Runner) check(st *Step, err error) error {
	if st.Error == "" {
		return err
	}
	want := errorNames[st.Error]
	if err == nil {
		return fmt.Errorf("%w: want %s, got success", ErrExpectation, st.Error)
	}
	if !errors.Is(err, want) {
		return fmt.Errorf("%w: want %s, got %v", ErrExpectation, st.Error, err)
	}
	r.trace = append(r.trace, Record{Step: r.step, Op: r.op, Kind: RecordError, Error: st.Error})
	return nil
}

func (r *Runner) vbus(st *Step) error {
	r.u.VBus(st.Value != 0)
	return nil
}

func (r *Runner) sof(st *Step) error {
	n := max(st.Count, 1)
	for i := 0; i < n; i++ {
		r.u.SOF()
	}
	return nil
}

func (r *Runner) setup(st *Step) error {
	var pkt [dcd.SetupBufferSize]byte
	p, _ := st.payload()
	copy(pkt[:], p)
	return r.check(st, r.u.Setup(uint8(st.Device), pkt))
}

func (r *Runner) open(st *Step) error {
	typ, _ := dcd.ParseTransferType(st.Type)
	_, err := r.c.EndpointOpen(dcd.EndpointDescriptor{
		Address:       st.endpoint(),
		Attributes:    typ,
		MaxPacketSize: uint16(st.Size),
	})
	return r.check(st, err)
}

func (r *Runner) transfer(st *Step) error {
	addr := st.endpoint()
	var buf []byte
	if addr&dcd.DirIn != 0 {
		buf, _ = st.payload()
		if buf == nil && st.Length != nil {
			buf = pattern(*st.Length)
		}
	} else {
		n := 0
		if st.Length != nil {
			n = *st.Length
		}
		buf = make([]byte, n)
	}
	err := r.c.EndpointTransfer(addr, buf)
	if err == nil && addr&dcd.DirIn == 0 {
		r.outBufs[addr] = buf
	}
	return r.check(st, err)
}

func (r *Runner) stall(st *Step) error {
	return r.check(st, r.c.EndpointStall(st.endpoint()))
}

func (r *Runner) clearStall(st *Step) error {
	return r.check(st, r.c.EndpointClearStall(st.endpoint()))
}

func (r *Runner) in(st *Step) error {
	ep := st.endpoint() & 0x0F
	pkt, err := r.u.In(uint8(st.Device), ep)
	if err != nil || st.Error != "" {
		return r.check(st, err)
	}
	r.trace = append(r.trace, Record{
		Step:   r.step,
		Op:     r.op,
		Kind:   RecordPacket,
		EP:     fmt.Sprintf("0x%02X", ep|dcd.DirIn),
		Length: len(pkt.Data),
		Data:   fmt.Sprintf("% x", pkt.Data),
		Data1:  pkt.Data1,
	})

	if want, _ := st.payload(); st.Data != "" && !bytes.Equal(pkt.Data, want) {
		return fmt.Errorf("%w: IN data % x, want % x", ErrExpectation, pkt.Data, want)
	}
	if st.Length != nil && len(pkt.Data) != *st.Length {
		return fmt.Errorf("%w: IN length %d, want %d", ErrExpectation, len(pkt.Data), *st.Length)
	}
	if st.Data1 != nil && pkt.Data1 != *st.Data1 {
		return fmt.Errorf("%w: IN toggle DATA1=%v, want %v", ErrExpectation, pkt.Data1, *st.Data1)
	}
	return nil
}

func (r *Runner) out(st *Step) error {
	ep := st.endpoint() & 0x0F
	data, _ := st.payload()
	err := r.u.Out(uint8(st.Device), ep, data)
	if err == nil && st.Error == "" {
		r.trace = append(r.trace, Record{
			Step:   r.step,
			Op:     r.op,
			Kind:   RecordPacket,
			EP:     fmt.Sprintf("0x%02X", ep),
			Length: len(data),
			Data:   fmt.Sprintf("% x", data),
		})
	}
	return r.check(st, err)
}

// expectEvent consumes the oldest pending event of the requested kind and
// checks it against the step.
func (r *Runner) expectEvent(st *Step) error {
	kind, _ := dcd.ParseEventKind(st.Event)
	for i, ev := range r.pending {
		if ev.Kind != kind || (st.EP != nil && ev.Address != st.endpoint()) {
			continue
		}
		r.pending = append(r.pending[:i], r.pending[i+1:]...)
		return r.matchEvent(st, ev)
	}
	return fmt.Errorf("%w: no pending %s event", ErrExpectation, kind)
}

func (r *Runner) matchEvent(st *Step, ev dcd.Event) error {
	if st.Length != nil && ev.Length != *st.Length {
		return fmt.Errorf("%w: %s length %d, want %d", ErrExpectation, ev.Kind, ev.Length, *st.Length)
	}
	if st.Actual != nil && ev.Actual != *st.Actual {
		return fmt.Errorf("%w: %s actual %d, want %d", ErrExpectation, ev.Kind, ev.Actual, *st.Actual)
	}
	if st.Data == "" {
		return nil
	}
	want, _ := st.payload()
	var got []byte
	switch ev.Kind {
	case dcd.EventSetupReceived:
		got = ev.Setup[:]
	case dcd.EventTransferComplete:
		if buf, ok := r.outBufs[ev.Address]; ok && ev.Address&dcd.DirIn == 0 {
			got = buf[:min(ev.Actual, len(buf))]
		}
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: %s data % x, want % x", ErrExpectation, ev.Kind, got, want)
	}
	return nil
}

func (r *Runner) expectNone(*Step) error {
	if len(r.pending) > 0 {
		return fmt.Errorf("%w: %d unexpected events, first %s", ErrExpectation, len(r.pending), r.pending[0])
	}
	return nil
}

func (r *Runner) expectAddress(st *Step) error {
	if got := r.u.Address(); int(got) != st.Value {
		return fmt.Errorf("%w: address %d, want %d", ErrExpectation, got, st.Value)
	}
	return nil
}

func (r *Runner) expectState(st *Step) error {
	want, _ := dcd.ParseBusState(st.State)
	if got := r.c.State(); got != want {
		return fmt.Errorf("%w: state %s, want %s", ErrExpectation, got, want)
	}
	return nil
}

// pattern returns n bytes of a recognizable counting sequence.
func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}
