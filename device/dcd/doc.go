// Package dcd is the device controller driver for the USBD peripheral: it
// bridges the fixed-function controller described by [periph] to a generic
// USB device stack.
//
// # Hardware model
//
// The peripheral has eight simplex endpoint slots. Two of them are reserved
// at initialization for the control endpoint (slot 0 is EP0 IN, slot 1 is
// EP0 OUT); the remaining six are assigned to endpoints in the order they are
// opened. Packet RAM starts with the 8 byte SETUP buffer and the two control
// endpoint buffers; every other endpoint gets a region from a bump allocator
// when it is opened. Slots and packet RAM are released only by a controller
// reset.
//
// # Transfers
//
// [Controller.EndpointTransfer] starts a transfer of any length. The
// interrupt handler moves it one packet at a time:
//
//   - IN: each packet is copied into packet RAM and armed; progress is
//     recorded when the host acknowledges it, and the next packet follows
//     until no bytes remain.
//   - OUT: the slot is armed for one max-size packet at a time. The transfer
//     ends when the buffer is full or a short packet arrives.
//
// Each transfer produces exactly one [EventTransferComplete].
//
// # Interrupt handling
//
// [Controller.ISR] samples the status registers, decodes them into a small
// set of signals (VBUS, reset, suspend, resume, SETUP, packet, SOF) and feeds
// each one to a single state machine step. Upstream events go to the
// [Handler] from interrupt context.
//
// # Concurrency
//
// There are two contexts: the foreground, which calls the Controller
// methods, and the interrupt handler, which never preempts itself. They
// share the transfer table, the pending device address and the control IN
// message flag without locks. Ownership of a slot's transfer record passes to
// the interrupt handler when EndpointTransfer arms it and returns to the
// foreground just before the completion event is delivered; an atomic flag
// per slot carries the handoff, so a second EndpointTransfer on a busy slot
// fails with [pkg.ErrBusy] instead of corrupting the transfer in flight.
//
// # Example
//
//	u := sim.New(sim.DefaultConfig())
//	c := dcd.New(u, u, dcd.HandlerFunc(func(ev dcd.Event) {
//	    log.Println(ev)
//	}), dcd.DefaultConfig())
//	u.Attach(c.ISR)
//	if err := c.Init(); err != nil {
//	    return err
//	}
//	c.InterruptEnable()
package dcd
