package dcd

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/usbd/device/periph"
	"github.com/ardnew/usbd/pkg"
)

// NumSlots is the number of physical endpoint slots.
const NumSlots = periph.NumSlots

// Fixed slots of the control endpoint pair.
const (
	slotEP0In  = 0
	slotEP0Out = 1
)

// enabledIRQs is the set of interrupt sources the controller services.
const enabledIRQs = periph.IntVBusDet | periph.IntBus | periph.IntSetup | periph.IntUSB | periph.IntSOF

// Controller drives one USBD peripheral on behalf of a device stack.
//
// Foreground methods (EndpointOpen, EndpointTransfer, SetAddress, ...) and
// the interrupt handler ISR share the transfer table without a lock. A slot
// is owned by the foreground until EndpointTransfer arms it, and by the
// interrupt handler from then until the completion event is delivered.
type Controller struct {
	p       periph.Peripheral
	irq     periph.IRQ
	handler Handler
	cfg     Config

	// mutex serializes foreground configuration calls. ISR never takes it.
	mutex   sync.Mutex
	running bool
	alloc   allocator

	xfer [NumSlots]transfer

	// shared with interrupt context
	assignedAddress atomic.Uint32
	activeEP0       atomic.Bool
	state           atomic.Uint32
	resumeState     atomic.Uint32
}

// New creates a controller for p. irq may be nil when interrupt delivery is
// managed elsewhere; h may be nil to discard events.
func New(p periph.Peripheral, irq periph.IRQ, h Handler, cfg Config) *Controller {
	if h == nil {
		h = nopHandler{}
	}
	return &Controller{
		p:       p,
		irq:     irq,
		handler: h,
		cfg:     cfg.withDefaults(),
	}
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Init brings the peripheral to a known state, sets up the control endpoint
// pair and attaches to the bus.
func (c *Controller) Init() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.running {
		return pkg.ErrAlreadyRunning
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if c.cfg.BufferSize > c.p.BufferSize() {
		return fmt.Errorf("%w: configured %d bytes of packet RAM, peripheral has %d",
			pkg.ErrNoMemory, c.cfg.BufferSize, c.p.BufferSize())
	}

	attr := periph.AttrInit
	if c.cfg.LPM {
		attr |= periph.AttrLPMACK
	}
	c.p.Store(periph.RegAttr, attr)

	c.detach()

	c.p.Store(periph.RegSetupBuf, SetupBufferOffset)
	c.clearSlots()

	c.p.Store(periph.EP(slotEP0In, periph.FieldCfg), periph.CfgCStall|periph.CfgStateIn)
	c.p.Store(periph.EP(slotEP0In, periph.FieldBufSeg), uint32(c.cfg.ep0InOffset()))
	c.xfer[slotEP0In].maxPacket = c.cfg.EP0Size

	c.p.Store(periph.EP(slotEP0Out, periph.FieldCfg), periph.CfgCStall|periph.CfgStateOut)
	c.p.Store(periph.EP(slotEP0Out, periph.FieldBufSeg), uint32(c.cfg.ep0OutOffset()))
	c.xfer[slotEP0Out].maxPacket = c.cfg.EP0Size

	c.alloc.reset(c.cfg.userBase(), c.cfg.BufferSize)

	c.attach()

	c.p.Store(periph.RegIntSts, enabledIRQs|periph.IntEPEvtMask)
	c.p.Store(periph.RegIntEn, enabledIRQs)

	c.running = true
	pkg.LogInfo(pkg.ComponentDCD, "controller initialized",
		"variant", c.cfg.Variant,
		"bufferSize", c.cfg.BufferSize,
		"ep0Size", c.cfg.EP0Size,
		"lpm", c.cfg.LPM)
	return nil
}

// Deinit detaches from the bus, masks every interrupt source and releases
// all slots.
func (c *Controller) Deinit() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.running {
		return nil
	}
	c.p.Store(periph.RegIntEn, 0)
	c.detach()
	c.clearSlots()
	c.p.Store(periph.RegIntSts, enabledIRQs|periph.IntEPEvtMask)
	c.running = false
	pkg.LogInfo(pkg.ComponentDCD, "controller deinitialized")
	return nil
}

// Reset performs a full controller reset: Deinit followed by Init. It is the
// only way to release endpoint slots and packet RAM.
func (c *Controller) Reset() error {
	if err := c.Deinit(); err != nil {
		return err
	}
	return c.Init()
}

// clearSlots unconfigures every slot and clears the shared state. The caller
// holds c.mutex.
func (c *Controller) clearSlots() {
	for slot := 0; slot < NumSlots; slot++ {
		c.p.Store(periph.EP(slot, periph.FieldCfgP), periph.CfgPClrRdy)
		c.p.Store(periph.EP(slot, periph.FieldCfg), 0)
		c.p.Store(periph.EP(slot, periph.FieldBufSeg), 0)
		c.xfer[slot].reset()
	}
	c.p.Store(periph.RegFAddr, 0)
	c.assignedAddress.Store(0)
	c.activeEP0.Store(false)
}

// InterruptEnable unmasks the peripheral interrupt line.
func (c *Controller) InterruptEnable() {
	if c.irq != nil {
		c.irq.Enable()
	}
}

// InterruptDisable masks the peripheral interrupt line.
func (c *Controller) InterruptDisable() {
	if c.irq != nil {
		c.irq.Disable()
	}
}

// SetAddress records the address assigned by SET_ADDRESS and sends the
// status stage ZLP. The hardware address register keeps the old address
// until the host acknowledges the ZLP, see ISR.
func (c *Controller) SetAddress(addr uint8) {
	c.assignedAddress.Store(uint32(addr) & periph.FAddrMask)
	c.sendControlZLP()
	pkg.LogDebug(pkg.ComponentDCD, "address pending", "address", addr)
}

// Address returns the address currently programmed into the hardware.
func (c *Controller) Address() uint8 {
	return uint8(c.p.Load(periph.RegFAddr) & periph.FAddrMask)
}

// PendingAddress returns the address recorded by SetAddress.
func (c *Controller) PendingAddress() uint8 {
	return uint8(c.assignedAddress.Load())
}

// SetConfiguration is called when the host selects configuration n. The
// hardware needs nothing; only the bus state is tracked.
func (c *Controller) SetConfiguration(n uint8) {
	switch s := c.State(); {
	case n != 0 && s == StateReset:
		c.setState(StateConfigured)
	case n == 0 && s == StateConfigured:
		c.setState(StateReset)
	}
}

// sendControlZLP forces DATA1 and arms a zero-length packet on EP0 IN
// without going through the transfer table.
func (c *Controller) sendControlZLP() {
	periph.SetBits(c.p, periph.EP(slotEP0In, periph.FieldCfg), periph.CfgDSQSync)
	c.p.Store(periph.EP(slotEP0In, periph.FieldMxPld), 0)
}
