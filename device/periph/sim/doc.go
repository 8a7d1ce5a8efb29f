// Package sim is a software model of the USBD device controller peripheral.
//
// It implements [periph.Peripheral] and [periph.IRQ] with the register side
// effects a driver relies on:
//
//   - interrupt status is write-1-to-clear
//   - writing a slot's payload length arms the slot
//   - the clear-stall and clear-ready bits are commands and read back as zero
//   - the data toggle of a slot flips after every successful data transaction
//   - bus state flags in the attribute register are read-only and clear when
//     the bus interrupt is acknowledged
//
// The host side of the bus is played by calling [USBD.VBus], [USBD.BusReset],
// [USBD.Suspend], [USBD.Resume], [USBD.SOF], [USBD.Setup], [USBD.In] and
// [USBD.Out]. Handshakes map to errors: a stalled slot gives [pkg.ErrStall],
// an unarmed slot [pkg.ErrNAK], and a wrong address or detached device
// [pkg.ErrNoDevice].
//
//	u := sim.New(sim.DefaultConfig())
//	u.Attach(ctrl.ISR)
//	u.BusReset()
//	pkt, err := u.In(0, 0)
package sim
