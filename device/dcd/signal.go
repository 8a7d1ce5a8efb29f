package dcd

import "github.com/ardnew/usbd/device/periph"

// signalKind is a hardware condition decoded from one interrupt pass.
type signalKind uint8

const (
	sigVBus      signalKind = iota + 1 // VBUS changed; present says which way
	sigReset                           // bus reset
	sigSuspend                         // bus suspended
	sigResume                          // bus resumed
	sigSetup                           // SETUP packet in the setup buffer
	sigControlIn                       // EP0 IN packet acknowledged
	sigPacket                          // data packet moved on slot
	sigSOF                             // start of frame
)

// signal is one decoded hardware condition.
type signal struct {
	kind    signalKind
	slot    int
	n       int // bytes moved, for sigControlIn and sigPacket
	present bool
}

// maxSignals bounds the signals one pass can produce: VBUS, three bus
// conditions, SETUP, one per slot and SOF.
const maxSignals = 5 + NumSlots + 1

// snapshot is the register state sampled at the start of an interrupt pass.
type snapshot struct {
	status uint32 // interrupt status restricted to serviced sources
	attr   uint32 // bus state flags
	vbus   bool
	mxpld  [NumSlots]uint32 // payload length of slots with a pending event
}

// sample reads the registers the classifier needs.
func (c *Controller) sample() snapshot {
	s := snapshot{
		status: c.p.Load(periph.RegIntSts) & (enabledIRQs | periph.IntEPEvtMask),
	}
	stateMask := periph.AttrStateMask
	if c.cfg.LPM {
		stateMask = periph.AttrStateMaskLPM
	}
	s.attr = c.p.Load(periph.RegAttr) & stateMask
	if s.status&periph.IntVBusDet != 0 {
		s.vbus = c.p.Load(periph.RegVBusDet)&periph.VBusDetected != 0
	}
	if s.status&periph.IntUSB != 0 {
		for slot := 0; slot < NumSlots; slot++ {
			if s.status&periph.IntEPEvt(slot) != 0 {
				s.mxpld[slot] = c.p.Load(periph.EP(slot, periph.FieldMxPld)) & periph.MxPldMask
			}
		}
	}
	return s
}

// classify decodes a snapshot into signals in service priority order and
// returns how many were written to out.
func classify(s snapshot, out *[maxSignals]signal) int {
	n := 0
	emit := func(sig signal) {
		out[n] = sig
		n++
	}

	if s.status&periph.IntVBusDet != 0 {
		emit(signal{kind: sigVBus, present: s.vbus})
	}

	if s.status&periph.IntBus != 0 {
		if s.attr&periph.AttrUSBRST != 0 {
			emit(signal{kind: sigReset})
		}
		if s.attr&periph.AttrSuspend != 0 {
			emit(signal{kind: sigSuspend})
		}
		if s.attr&periph.AttrResume != 0 {
			emit(signal{kind: sigResume})
		}
	}

	if s.status&periph.IntSetup != 0 {
		emit(signal{kind: sigSetup})
	}

	if s.status&periph.IntUSB != 0 {
		if s.status&periph.IntEPEvt(slotEP0In) != 0 {
			emit(signal{kind: sigControlIn, slot: slotEP0In, n: int(s.mxpld[slotEP0In])})
		}
		for slot := slotEP0Out; slot < NumSlots; slot++ {
			if s.status&periph.IntEPEvt(slot) != 0 {
				emit(signal{kind: sigPacket, slot: slot, n: int(s.mxpld[slot])})
			}
		}
	}

	if s.status&periph.IntSOF != 0 {
		emit(signal{kind: sigSOF})
	}
	return n
}
