package periph

// NumSlots is the number of simplex endpoint slots in the USBD peripheral.
const NumSlots = 8

// Reg identifies a peripheral register. Global registers come first; the
// per-slot registers follow as NumSlots banks of NumFields registers each.
type Reg uint16

// Global registers.
const (
	RegIntEn    Reg = iota // interrupt enable
	RegIntSts              // interrupt status, write 1 to clear
	RegFAddr               // device (function) address
	RegAttr                // bus attributes and state flags
	RegVBusDet             // VBUS detection status, read-only
	RegSetupBuf            // SETUP packet buffer offset
	RegSE0                 // drive SE0 (detach) when set
	numGlobal
)

// Field identifies a register within an endpoint slot bank.
type Field uint16

// Endpoint slot registers.
const (
	FieldBufSeg Field = iota // buffer offset in packet RAM
	FieldMxPld               // payload length; write arms, read reports bytes moved
	FieldCfg                 // configuration
	FieldCfgP                // extra configuration (stall, clear-ready)
	NumFields
)

// NumRegs is the total number of addressable registers.
const NumRegs = int(numGlobal) + NumSlots*int(NumFields)

// EP returns the register for field f of slot.
func EP(slot int, f Field) Reg {
	return numGlobal + Reg(slot)*Reg(NumFields) + Reg(f)
}

// SlotOf decodes an endpoint register into its slot and field. ok is false
// for global registers.
func SlotOf(r Reg) (slot int, f Field, ok bool) {
	if r < numGlobal {
		return 0, 0, false
	}
	off := int(r - numGlobal)
	return off / int(NumFields), Field(off % int(NumFields)), true
}

// Interrupt status and enable bits.
const (
	IntBus     uint32 = 1 << 0  // bus condition (reset, suspend, resume)
	IntUSB     uint32 = 1 << 1  // endpoint event, see IntEPEvt
	IntVBusDet uint32 = 1 << 2  // VBUS plugged or unplugged
	IntWakeup  uint32 = 1 << 3  // wake-up while suspended
	IntSOF     uint32 = 1 << 4  // start of frame
	IntSetup   uint32 = 1 << 31 // SETUP packet received

	intEPEvtShift = 16
)

// IntEPEvtMask covers the per-slot event bits.
const IntEPEvtMask uint32 = (1<<NumSlots - 1) << intEPEvtShift

// IntEPEvt returns the event bit for slot.
func IntEPEvt(slot int) uint32 {
	return 1 << (intEPEvtShift + uint(slot))
}

// Attribute register bits.
const (
	AttrUSBRST    uint32 = 1 << 0 // bus reset seen
	AttrSuspend   uint32 = 1 << 1 // bus idle, suspend
	AttrResume    uint32 = 1 << 2 // resume signalling seen
	AttrTimeout   uint32 = 1 << 3 // no response timeout
	AttrPHYEN     uint32 = 1 << 4 // transceiver enable
	AttrRWakeup   uint32 = 1 << 5 // drive remote wake-up K state
	AttrUSBEN     uint32 = 1 << 7 // controller enable
	AttrDPPUEN    uint32 = 1 << 8 // D+ pull-up enable
	AttrPWRDN     uint32 = 1 << 9 // power-down disable
	AttrBYTEM     uint32 = 1 << 10
	AttrLPMACK    uint32 = 1 << 11 // acknowledge LPM tokens
	AttrL1Suspend uint32 = 1 << 12
	AttrL1Resume  uint32 = 1 << 13

	// AttrInit is the attribute value written at controller initialization.
	AttrInit uint32 = 0x7D0

	// AttrStateMask selects the read-only bus state flags.
	AttrStateMask uint32 = AttrUSBRST | AttrSuspend | AttrResume | AttrTimeout
	// AttrStateMaskLPM additionally selects the LPM state flags.
	AttrStateMaskLPM uint32 = AttrStateMask | AttrL1Suspend | AttrL1Resume
)

// Misc single-bit registers.
const (
	VBusDetected uint32 = 1 << 0
	SE0          uint32 = 1 << 0
	FAddrMask    uint32 = 0x7F
	MxPldMask    uint32 = 0x1FF
)

// Slot configuration register bits.
const (
	CfgEPNumMask uint32 = 0x0F
	CfgISOCH     uint32 = 1 << 4
	CfgStateMask uint32 = 3 << 5
	CfgStateOut  uint32 = 1 << 5
	CfgStateIn   uint32 = 2 << 5
	CfgDSQSync   uint32 = 1 << 7 // data toggle: set = DATA1
	CfgCStall    uint32 = 1 << 9 // command: clear stall, reads as zero
)

// Slot extra configuration register bits.
const (
	CfgPClrRdy uint32 = 1 << 0 // command: discard armed payload, reads as zero
	CfgPSStall uint32 = 1 << 1 // respond with STALL
)

// Peripheral is the register-level view of a USB device controller.
//
// Implementations must make each call atomic with respect to the interrupt
// handler: a Load or Store is a single register access.
type Peripheral interface {
	// Load reads a register.
	Load(r Reg) uint32
	// Store writes a register. Writes may have side effects, such as arming
	// an endpoint or clearing interrupt status.
	Store(r Reg, v uint32)
	// ReadBuffer copies len(p) bytes of packet RAM starting at offset into p.
	ReadBuffer(offset uint32, p []byte)
	// WriteBuffer copies p into packet RAM starting at offset.
	WriteBuffer(offset uint32, p []byte)
	// BufferSize returns the capacity of packet RAM in bytes.
	BufferSize() int
}

// IRQ gates delivery of the peripheral interrupt line.
type IRQ interface {
	Enable()
	Disable()
}

// SetBits sets mask in register r.
func SetBits(p Peripheral, r Reg, mask uint32) {
	p.Store(r, p.Load(r)|mask)
}

// ClearBits clears mask in register r.
func ClearBits(p Peripheral, r Reg, mask uint32) {
	p.Store(r, p.Load(r)&^mask)
}

// HasBits reports whether every bit of mask is set in register r.
func HasBits(p Peripheral, r Reg, mask uint32) bool {
	return p.Load(r)&mask == mask
}
