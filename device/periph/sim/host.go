package sim

import (
	"fmt"

	"github.com/ardnew/usbd/device/periph"
	"github.com/ardnew/usbd/pkg"
)

// SetupSize is the size of a SETUP packet.
const SetupSize = 8

// latch sets interrupt status bits. The caller holds u.mutex.
func (u *USBD) latch(bits uint32) {
	u.regs[periph.RegIntSts] |= bits
}

// VBus plugs or unplugs the cable.
func (u *USBD) VBus(present bool) {
	u.mutex.Lock()
	if present {
		u.regs[periph.RegVBusDet] = periph.VBusDetected
	} else {
		u.regs[periph.RegVBusDet] = 0
	}
	u.latch(periph.IntVBusDet)
	u.mutex.Unlock()
	u.fire()
}

// BusReset drives a bus reset. Every armed slot is flushed.
func (u *USBD) BusReset() {
	u.busCondition(periph.AttrUSBRST)
}

// Suspend idles the bus long enough for the device to suspend.
func (u *USBD) Suspend() {
	u.busCondition(periph.AttrSuspend)
}

// Resume drives resume signalling.
func (u *USBD) Resume() {
	u.busCondition(periph.AttrResume)
}

func (u *USBD) busCondition(flag uint32) {
	u.mutex.Lock()
	if flag == periph.AttrUSBRST {
		for i := range u.armed {
			u.armed[i] = false
		}
	}
	u.regs[periph.RegAttr] |= flag
	u.latch(periph.IntBus)
	u.mutex.Unlock()
	u.fire()
}

// SOF emits a start-of-frame token.
func (u *USBD) SOF() {
	u.mutex.Lock()
	u.latch(periph.IntSOF)
	u.mutex.Unlock()
	u.fire()
}

// Setup sends a SETUP transaction to endpoint 0 of the device at addr.
// A SETUP token clears a stall on the control slots.
func (u *USBD) Setup(addr uint8, pkt [SetupSize]byte) error {
	u.mutex.Lock()
	if err := u.respondingLocked(addr); err != nil {
		u.mutex.Unlock()
		return err
	}
	off := u.regs[periph.RegSetupBuf]
	copy(u.ram[off:off+SetupSize], pkt[:])
	for slot := 0; slot < periph.NumSlots; slot++ {
		cfg := u.regs[periph.EP(slot, periph.FieldCfg)]
		if cfg&periph.CfgStateMask != 0 && cfg&periph.CfgEPNumMask == 0 {
			u.regs[periph.EP(slot, periph.FieldCfgP)] &^= periph.CfgPSStall
		}
	}
	u.latch(periph.IntSetup)
	u.mutex.Unlock()
	u.fire()
	return nil
}

// In performs an IN transaction on endpoint ep of the device at addr and
// returns the packet the device sent.
func (u *USBD) In(addr, ep uint8) (Packet, error) {
	u.mutex.Lock()
	slot, err := u.transactLocked(addr, ep&0x0F|0x80)
	if err != nil {
		u.mutex.Unlock()
		return Packet{}, err
	}

	cfgReg := periph.EP(slot, periph.FieldCfg)
	n := u.regs[periph.EP(slot, periph.FieldMxPld)]
	off := u.regs[periph.EP(slot, periph.FieldBufSeg)]
	pkt := Packet{
		Data:  append([]byte{}, u.ram[off:off+n]...),
		Data1: u.regs[cfgReg]&periph.CfgDSQSync != 0,
	}
	u.regs[cfgReg] ^= periph.CfgDSQSync
	u.armed[slot] = false
	u.latch(periph.IntUSB | periph.IntEPEvt(slot))
	u.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentPeriph, "host IN",
		"address", addr, "endpoint", ep, "slot", slot, "bytes", n, "data1", pkt.Data1)
	u.fire()
	return pkt, nil
}

// Out performs an OUT transaction carrying data to endpoint ep of the device
// at addr.
func (u *USBD) Out(addr, ep uint8, data []byte) error {
	u.mutex.Lock()
	slot, err := u.transactLocked(addr, ep&0x0F)
	if err != nil {
		u.mutex.Unlock()
		return err
	}

	pldReg := periph.EP(slot, periph.FieldMxPld)
	if uint32(len(data)) > u.regs[pldReg] {
		limit := u.regs[pldReg]
		u.mutex.Unlock()
		return fmt.Errorf("%w: %d bytes sent, endpoint armed for %d", pkg.ErrOverrun, len(data), limit)
	}
	off := u.regs[periph.EP(slot, periph.FieldBufSeg)]
	copy(u.ram[off:], data)
	u.regs[pldReg] = uint32(len(data))
	u.regs[periph.EP(slot, periph.FieldCfg)] ^= periph.CfgDSQSync
	u.armed[slot] = false
	u.latch(periph.IntUSB | periph.IntEPEvt(slot))
	u.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentPeriph, "host OUT",
		"address", addr, "endpoint", ep, "slot", slot, "bytes", len(data))
	u.fire()
	return nil
}

// respondingLocked checks that the device answers at addr.
func (u *USBD) respondingLocked(addr uint8) error {
	attr := u.regs[periph.RegAttr]
	switch {
	case u.regs[periph.RegSE0]&periph.SE0 != 0,
		attr&(periph.AttrUSBEN|periph.AttrPHYEN) != periph.AttrUSBEN|periph.AttrPHYEN:
		return fmt.Errorf("%w: detached or transceiver off", pkg.ErrNoDevice)
	case uint32(addr) != u.regs[periph.RegFAddr]:
		return fmt.Errorf("%w: address %d, device at %d", pkg.ErrNoDevice, addr, u.regs[periph.RegFAddr])
	}
	return nil
}

// transactLocked resolves the slot for a data transaction and returns the
// handshake error the device would give, if any.
func (u *USBD) transactLocked(addr, epAddr uint8) (int, error) {
	if err := u.respondingLocked(addr); err != nil {
		return 0, err
	}
	slot := u.slotLocked(epAddr)
	if slot < 0 {
		return 0, fmt.Errorf("%w: 0x%02X", pkg.ErrInvalidEndpoint, epAddr)
	}
	if u.regs[periph.EP(slot, periph.FieldCfgP)]&periph.CfgPSStall != 0 {
		return slot, pkg.ErrStall
	}
	if !u.armed[slot] {
		return slot, pkg.ErrNAK
	}
	return slot, nil
}

func (u *USBD) slotLocked(epAddr uint8) int {
	want := periph.CfgStateOut
	if epAddr&0x80 != 0 {
		want = periph.CfgStateIn
	}
	for slot := 0; slot < periph.NumSlots; slot++ {
		cfg := u.regs[periph.EP(slot, periph.FieldCfg)]
		if cfg&periph.CfgStateMask == want && uint8(cfg&periph.CfgEPNumMask) == epAddr&0x0F {
			return slot
		}
	}
	return -1
}
