package sim

import (
	"fmt"
	"sync"

	"github.com/ardnew/usbd/device/periph"
	"github.com/ardnew/usbd/pkg"
)

// Packet buffer sizes of the supported controller variants.
const (
	BufferSizeNUC121 = 768
	BufferSizeNUC126 = 512
)

// maxPasses bounds how many times the handler is re-entered for one
// level-triggered assertion. A handler that never acknowledges its status
// bits would otherwise spin forever.
const maxPasses = 16

// Config describes the simulated controller.
type Config struct {
	BufferSize int // packet RAM capacity in bytes
}

// DefaultConfig returns the NUC121 configuration.
func DefaultConfig() Config {
	return Config{BufferSize: BufferSizeNUC121}
}

// Packet is one data packet observed on the bus.
type Packet struct {
	Data  []byte
	Data1 bool // DATA1 PID when true, DATA0 otherwise
}

// USBD is a software model of the USB device controller.
//
// Device-side code drives it through the [periph.Peripheral] and [periph.IRQ]
// methods. Tests play the host through the bus methods ([USBD.BusReset],
// [USBD.Setup], [USBD.In], [USBD.Out], ...), each of which latches interrupt
// status and then delivers the level-triggered interrupt to the attached
// handler on the calling goroutine.
type USBD struct {
	mutex   sync.Mutex
	regs    [periph.NumRegs]uint32
	ram     []byte
	armed   [periph.NumSlots]bool
	wakeups int

	// isrMutex serializes handler invocations; the interrupt never
	// preempts itself.
	isrMutex   sync.Mutex
	irqEnabled bool
	handler    func()
}

// New creates a simulated controller.
func New(cfg Config) *USBD {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = BufferSizeNUC121
	}
	return &USBD{ram: make([]byte, cfg.BufferSize)}
}

// Attach installs the interrupt handler.
func (u *USBD) Attach(handler func()) {
	u.mutex.Lock()
	u.handler = handler
	u.mutex.Unlock()
}

// Enable unmasks the interrupt line. A pending interrupt is delivered before
// Enable returns.
func (u *USBD) Enable() {
	u.mutex.Lock()
	u.irqEnabled = true
	u.mutex.Unlock()
	u.fire()
}

// Disable masks the interrupt line. Status bits stay latched.
func (u *USBD) Disable() {
	u.mutex.Lock()
	u.irqEnabled = false
	u.mutex.Unlock()
}

// Load implements periph.Peripheral.
func (u *USBD) Load(r periph.Reg) uint32 {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.regs[r]
}

// Store implements periph.Peripheral.
func (u *USBD) Store(r periph.Reg, v uint32) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if slot, f, ok := periph.SlotOf(r); ok {
		u.storeEP(slot, f, v)
		return
	}

	switch r {
	case periph.RegIntSts:
		u.regs[r] &^= v
		if v&periph.IntBus != 0 {
			u.regs[periph.RegAttr] &^= periph.AttrStateMaskLPM
		}
	case periph.RegAttr:
		old := u.regs[r]
		if v&periph.AttrRWakeup != 0 && old&periph.AttrRWakeup == 0 {
			u.wakeups++
		}
		u.regs[r] = v&^periph.AttrStateMaskLPM | old&periph.AttrStateMaskLPM
	case periph.RegFAddr:
		u.regs[r] = v & periph.FAddrMask
	case periph.RegVBusDet:
		// read-only
	default:
		u.regs[r] = v
	}
}

func (u *USBD) storeEP(slot int, f periph.Field, v uint32) {
	r := periph.EP(slot, f)
	switch f {
	case periph.FieldCfg:
		if v&periph.CfgCStall != 0 {
			u.regs[periph.EP(slot, periph.FieldCfgP)] &^= periph.CfgPSStall
		}
		u.regs[r] = v &^ periph.CfgCStall
	case periph.FieldCfgP:
		if v&periph.CfgPClrRdy != 0 {
			u.armed[slot] = false
		}
		u.regs[r] = v &^ periph.CfgPClrRdy
	case periph.FieldMxPld:
		u.regs[r] = v & periph.MxPldMask
		u.armed[slot] = true
	default:
		u.regs[r] = v
	}
}

// ReadBuffer implements periph.Peripheral.
func (u *USBD) ReadBuffer(offset uint32, p []byte) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	copy(p, u.ram[offset:])
}

// WriteBuffer implements periph.Peripheral.
func (u *USBD) WriteBuffer(offset uint32, p []byte) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	copy(u.ram[offset:], p)
}

// BufferSize implements periph.Peripheral.
func (u *USBD) BufferSize() int {
	return len(u.ram)
}

// Armed reports whether slot is armed for a transaction.
func (u *USBD) Armed(slot int) bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.armed[slot]
}

// Attached reports whether the D+ pull-up is connected (SE0 not driven).
func (u *USBD) Attached() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.regs[periph.RegSE0]&periph.SE0 == 0
}

// Address returns the device address register.
func (u *USBD) Address() uint8 {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return uint8(u.regs[periph.RegFAddr])
}

// Wakeups returns the number of remote wake-up pulses driven so far.
func (u *USBD) Wakeups() int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.wakeups
}

// fire delivers the level-triggered interrupt while it is asserted.
func (u *USBD) fire() {
	u.isrMutex.Lock()
	defer u.isrMutex.Unlock()

	for pass := 0; pass < maxPasses; pass++ {
		u.mutex.Lock()
		asserted := u.irqEnabled && u.handler != nil &&
			u.regs[periph.RegIntSts]&u.regs[periph.RegIntEn] != 0
		handler := u.handler
		u.mutex.Unlock()

		if !asserted {
			return
		}
		handler()
	}
	pkg.LogWarn(pkg.ComponentPeriph, "interrupt still asserted after handler passes",
		"passes", maxPasses,
		"status", fmt.Sprintf("%#08x", u.Load(periph.RegIntSts)))
}
