package dcd

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/usbd/device/periph"
	"github.com/ardnew/usbd/pkg"
)

// transfer tracks the progress of the transfer in flight on one slot.
//
// buf, total and maxPacket are written by the foreground before armed is
// set and the hardware is armed; from then on only the interrupt handler
// touches the record until it clears armed.
type transfer struct {
	buf       []byte
	offset    int // bytes already moved; buf[offset:] is the data pointer
	remaining int
	total     int
	maxPacket int

	armed atomic.Bool
}

func (x *transfer) reset() {
	x.buf = nil
	x.offset = 0
	x.remaining = 0
	x.total = 0
	x.maxPacket = 0
	x.armed.Store(false)
}

// EndpointTransfer starts a transfer of len(buf) bytes on the endpoint at
// addr. IN transfers send buf; OUT transfers receive into buf, ending when
// buf is full or the host sends a short packet. Completion is reported with
// an EventTransferComplete. Transfers on the control IN endpoint are limited
// to one packet; the device stack sequences the packets of a control message
// (usbd.HAL.WriteEP0 splits longer control writes).
//
// Only one transfer may be outstanding per endpoint: starting another before
// the completion event returns pkg.ErrBusy.
func (c *Controller) EndpointTransfer(addr uint8, buf []byte) error {
	slot, err := c.mustFind(addr)
	if err != nil {
		return err
	}
	x := &c.xfer[slot]
	if addr == EP0In && len(buf) > x.maxPacket {
		return fmt.Errorf("%w: control IN transfer of %d bytes exceeds packet size %d",
			pkg.ErrInvalidParameter, len(buf), x.maxPacket)
	}
	if !x.armed.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: transfer outstanding on 0x%02X", pkg.ErrBusy, addr)
	}

	x.buf = buf
	x.offset = 0
	x.remaining = len(buf)
	x.total = len(buf)

	// The first packet of a control IN message is DATA1. A message still in
	// progress keeps the toggle the hardware left behind.
	if addr == EP0In && !c.activeEP0.Load() {
		periph.SetBits(c.p, periph.EP(slot, periph.FieldCfg), periph.CfgDSQSync)
	}

	if addr&DirIn != 0 {
		c.sendPacket(slot)
	} else {
		c.p.Store(periph.EP(slot, periph.FieldMxPld), uint32(x.maxPacket))
	}
	return nil
}

// sendPacket copies the next packet of an IN transfer into packet RAM and
// arms the slot. Progress is recorded when the host acknowledges the packet.
func (c *Controller) sendPacket(slot int) {
	x := &c.xfer[slot]
	n := min(x.remaining, x.maxPacket)
	off := c.p.Load(periph.EP(slot, periph.FieldBufSeg))
	c.p.WriteBuffer(off, x.buf[x.offset:x.offset+n])
	c.p.Store(periph.EP(slot, periph.FieldMxPld), uint32(n))
}

// advanceIn records n bytes acknowledged by the host and sends the next
// packet or completes the transfer.
func (c *Controller) advanceIn(slot int, addr uint8, n int) {
	x := &c.xfer[slot]
	n = min(n, x.remaining)
	x.remaining -= n
	x.offset += n

	if x.remaining > 0 {
		c.sendPacket(slot)
		return
	}
	c.complete(slot, addr, x.total, x.offset)
}

// advanceOut copies n received bytes out of packet RAM and re-arms the slot
// or completes the transfer. A packet shorter than the max packet size ends
// the transfer even when buf has room left.
func (c *Controller) advanceOut(slot int, addr uint8, n int) {
	x := &c.xfer[slot]
	copied := min(n, x.remaining)
	if copied < n {
		pkg.LogDebug(pkg.ComponentEngine, "OUT packet truncated to buffer",
			"address", addr, "received", n, "room", x.remaining)
	}
	off := c.p.Load(periph.EP(slot, periph.FieldBufSeg))
	c.p.ReadBuffer(off, x.buf[x.offset:x.offset+copied])
	x.remaining -= copied
	x.offset += copied

	if x.remaining == 0 || n < x.maxPacket {
		c.complete(slot, addr, x.total, x.offset)
		return
	}
	c.p.Store(periph.EP(slot, periph.FieldMxPld), uint32(x.maxPacket))
}

// complete hands the slot back to the foreground and reports the transfer.
func (c *Controller) complete(slot int, addr uint8, total, actual int) {
	status := pkg.TransferStatusSuccess
	if actual < total {
		status = pkg.TransferStatusShort
	}
	c.xfer[slot].armed.Store(false)
	pkg.LogDebug(pkg.ComponentEngine, "transfer complete",
		"address", addr, "slot", slot, "length", total, "actual", actual, "status", status)
	c.handler.HandleEvent(Event{
		Kind:    EventTransferComplete,
		Address: addr,
		Length:  total,
		Actual:  actual,
		Status:  status,
	})
}
