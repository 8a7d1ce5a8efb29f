package dcd

import (
	"fmt"

	"github.com/ardnew/usbd/device/periph"
	"github.com/ardnew/usbd/pkg"
)

// decodeAddress rebuilds the endpoint address a slot is configured for.
// ok is false for unused slots.
func decodeAddress(cfg uint32) (addr uint8, ok bool) {
	addr = uint8(cfg & periph.CfgEPNumMask)
	switch cfg & periph.CfgStateMask {
	case periph.CfgStateIn:
		return addr | DirIn, true
	case periph.CfgStateOut:
		return addr, true
	default:
		return 0, false
	}
}

// freeSlot returns the first unused slot, or -1.
func (c *Controller) freeSlot() int {
	for slot := 0; slot < NumSlots; slot++ {
		if c.p.Load(periph.EP(slot, periph.FieldCfg))&periph.CfgStateMask == 0 {
			return slot
		}
	}
	return -1
}

// findSlot returns the slot configured for addr, or -1.
func (c *Controller) findSlot(addr uint8) int {
	for slot := 0; slot < NumSlots; slot++ {
		if a, ok := decodeAddress(c.p.Load(periph.EP(slot, periph.FieldCfg))); ok && a == addr {
			return slot
		}
	}
	return -1
}

func (c *Controller) mustFind(addr uint8) (int, error) {
	slot := c.findSlot(addr)
	if slot < 0 {
		return 0, fmt.Errorf("%w: 0x%02X is not open", pkg.ErrInvalidEndpoint, addr)
	}
	return slot, nil
}

// EndpointOpen assigns a slot and a packet RAM region to the endpoint
// described by desc and returns the slot index. Slots are taken in fixed
// order. Packet sizes are limited to what the payload length register holds
// (511 bytes). On failure no slot or packet RAM is consumed; exhaustion is
// reported as an *AllocationError.
func (c *Controller) EndpointOpen(desc EndpointDescriptor) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.running {
		return 0, pkg.ErrNotRunning
	}
	size := desc.PacketSize()
	switch {
	case desc.Number() == 0:
		return 0, fmt.Errorf("%w: control endpoint pair is fixed", pkg.ErrInvalidParameter)
	case size == 0:
		return 0, fmt.Errorf("%w: endpoint 0x%02X has zero max packet size", pkg.ErrInvalidParameter, desc.Address)
	case size > int(periph.MxPldMask):
		return 0, fmt.Errorf("%w: endpoint 0x%02X packet size %d exceeds %d",
			pkg.ErrInvalidParameter, desc.Address, size, periph.MxPldMask)
	case c.findSlot(desc.Address) >= 0:
		return 0, fmt.Errorf("%w: endpoint 0x%02X already open", pkg.ErrInvalidParameter, desc.Address)
	}

	slot := c.freeSlot()
	if slot < 0 {
		return 0, &AllocationError{Address: desc.Address, Size: size, Err: pkg.ErrNoFreeSlot}
	}
	off, err := c.alloc.allocate(size)
	if err != nil {
		return 0, &AllocationError{Address: desc.Address, Size: size, Err: err}
	}

	c.p.Store(periph.EP(slot, periph.FieldBufSeg), uint32(off))

	cfg := uint32(desc.Number())
	if desc.IsIn() {
		cfg |= periph.CfgStateIn
	} else {
		cfg |= periph.CfgStateOut
	}
	if desc.TransferType() == TransferTypeIsochronous {
		cfg |= periph.CfgISOCH
	}
	c.xfer[slot].reset()
	c.xfer[slot].maxPacket = size
	c.p.Store(periph.EP(slot, periph.FieldCfg), cfg)

	pkg.LogDebug(pkg.ComponentDCD, "endpoint opened",
		"address", fmt.Sprintf("0x%02X", desc.Address),
		"type", TransferTypeName(desc.TransferType()),
		"slot", slot,
		"offset", off,
		"size", size)
	return slot, nil
}

// EndpointStall makes the endpoint answer every transaction with STALL.
func (c *Controller) EndpointStall(addr uint8) error {
	slot, err := c.mustFind(addr)
	if err != nil {
		return err
	}
	periph.SetBits(c.p, periph.EP(slot, periph.FieldCfgP), periph.CfgPSStall)
	pkg.LogDebug(pkg.ComponentDCD, "endpoint stalled", "address", fmt.Sprintf("0x%02X", addr))
	return nil
}

// EndpointClearStall clears the stall condition and resets the data toggle
// to DATA0.
func (c *Controller) EndpointClearStall(addr uint8) error {
	slot, err := c.mustFind(addr)
	if err != nil {
		return err
	}
	r := periph.EP(slot, periph.FieldCfg)
	c.p.Store(r, c.p.Load(r)&^periph.CfgDSQSync|periph.CfgCStall)
	pkg.LogDebug(pkg.ComponentDCD, "endpoint stall cleared", "address", fmt.Sprintf("0x%02X", addr))
	return nil
}

// SlotInfo is a snapshot of one physical slot.
type SlotInfo struct {
	Index        int
	Open         bool
	Address      uint8
	Isochronous  bool
	Stalled      bool
	Data1        bool
	BufferOffset int
	MaxPacket    int
	Busy         bool // a transfer is outstanding
}

func (c *Controller) slotInfo(slot int) SlotInfo {
	cfg := c.p.Load(periph.EP(slot, periph.FieldCfg))
	addr, open := decodeAddress(cfg)
	return SlotInfo{
		Index:        slot,
		Open:         open,
		Address:      addr,
		Isochronous:  cfg&periph.CfgISOCH != 0,
		Stalled:      c.p.Load(periph.EP(slot, periph.FieldCfgP))&periph.CfgPSStall != 0,
		Data1:        cfg&periph.CfgDSQSync != 0,
		BufferOffset: int(c.p.Load(periph.EP(slot, periph.FieldBufSeg))),
		MaxPacket:    c.xfer[slot].maxPacket,
		Busy:         c.xfer[slot].armed.Load(),
	}
}

// Slots returns a snapshot of every physical slot.
func (c *Controller) Slots() [NumSlots]SlotInfo {
	var out [NumSlots]SlotInfo
	for slot := range out {
		out[slot] = c.slotInfo(slot)
	}
	return out
}

// Lookup returns the slot configured for addr.
func (c *Controller) Lookup(addr uint8) (SlotInfo, bool) {
	slot := c.findSlot(addr)
	if slot < 0 {
		return SlotInfo{}, false
	}
	return c.slotInfo(slot), true
}

// BufferUsage returns the packet RAM bytes handed to opened endpoints and the
// bytes still free.
func (c *Controller) BufferUsage() (used, free int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.alloc.used(), c.alloc.free()
}
