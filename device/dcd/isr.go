package dcd

import (
	"github.com/ardnew/usbd/device/periph"
	"github.com/ardnew/usbd/pkg"
)

// ISR services the peripheral interrupt. It must be installed as the
// interrupt handler and never runs concurrently with itself.
//
// Each pass samples the status registers once, services the decoded
// conditions in fixed priority order (VBUS, bus reset/suspend/resume, SETUP,
// endpoint packets, start of frame) and finally acknowledges exactly the
// status bits it observed.
func (c *Controller) ISR() {
	s := c.sample()
	if s.status == 0 {
		return
	}

	var sigs [maxSignals]signal
	n := classify(s, &sigs)
	for i := 0; i < n; i++ {
		c.step(sigs[i])
	}

	c.p.Store(periph.RegIntSts, s.status)
}

// step advances the protocol state machine by one signal.
func (c *Controller) step(sig signal) {
	switch sig.kind {
	case sigVBus:
		c.onVBus(sig.present)

	case sigReset:
		c.transceiverOn()
		for slot := 0; slot < NumSlots; slot++ {
			periph.ClearBits(c.p, periph.EP(slot, periph.FieldCfg), periph.CfgDSQSync)
			c.xfer[slot].armed.Store(false)
		}
		c.p.Store(periph.RegFAddr, 0)
		c.assignedAddress.Store(0)
		c.activeEP0.Store(false)
		c.setState(StateReset)
		pkg.LogDebug(pkg.ComponentISR, "bus reset")
		c.handler.HandleEvent(Event{Kind: EventBusReset})

	case sigSuspend:
		c.onSuspend()
		pkg.LogDebug(pkg.ComponentISR, "suspend")
		c.handler.HandleEvent(Event{Kind: EventSuspend})

	case sigResume:
		c.onResume()
		pkg.LogDebug(pkg.ComponentISR, "resume")
		c.handler.HandleEvent(Event{Kind: EventResume})

	case sigSetup:
		// A SETUP supersedes whatever the control slots had pending.
		for _, slot := range [...]int{slotEP0In, slotEP0Out} {
			periph.SetBits(c.p, periph.EP(slot, periph.FieldCfgP), periph.CfgPClrRdy)
			c.xfer[slot].armed.Store(false)
		}
		ev := Event{Kind: EventSetupReceived}
		c.p.ReadBuffer(SetupBufferOffset, ev.Setup[:])
		pkg.LogDebug(pkg.ComponentISR, "setup received", "setup", ev.Setup)
		c.handler.HandleEvent(ev)

	case sigControlIn:
		c.controlInDone(sig.n)

	case sigPacket:
		c.p.Store(periph.RegIntSts, periph.IntEPEvt(sig.slot))
		c.packetDone(sig.slot, sig.n)

	case sigSOF:
		c.handler.HandleEvent(Event{Kind: EventStartOfFrame})
	}
}

// controlInDone handles the host's ACK of an EP0 IN packet.
func (c *Controller) controlInDone(n int) {
	// The status stage of SET_ADDRESS has now completed at the old address,
	// so the new one can take effect.
	assigned := c.assignedAddress.Load()
	if faddr := c.p.Load(periph.RegFAddr); faddr == 0 && faddr != assigned {
		c.p.Store(periph.RegFAddr, assigned)
		pkg.LogDebug(pkg.ComponentISR, "address applied", "address", assigned)
	}

	c.activeEP0.Store(n == c.xfer[slotEP0In].maxPacket)
	c.complete(slotEP0In, EP0In, n, n)
}

// packetDone runs the transfer engine for a data slot event.
func (c *Controller) packetDone(slot, n int) {
	x := &c.xfer[slot]
	addr, ok := decodeAddress(c.p.Load(periph.EP(slot, periph.FieldCfg)))
	if !ok || !x.armed.Load() {
		pkg.LogDebug(pkg.ComponentISR, "packet event on idle slot ignored", "slot", slot, "bytes", n)
		return
	}
	if addr&DirIn != 0 {
		c.advanceIn(slot, addr, n)
	} else {
		c.advanceOut(slot, addr, n)
	}
}
