// Package periph defines the register interface of the USBD device
// controller peripheral.
//
// The peripheral has [NumSlots] simplex endpoint slots, a shared packet RAM
// addressed by byte offset, and a level-triggered interrupt line. Each slot
// exposes a bank of four registers (buffer offset, payload length,
// configuration, extra configuration); a handful of global registers carry
// interrupt status and enable bits, bus state, the device address and the
// attach control.
//
// Drivers access the hardware only through [Peripheral], so the same driver
// runs against memory-mapped registers or the software model in
// [github.com/ardnew/usbd/device/periph/sim].
//
//	periph.SetBits(p, periph.EP(slot, periph.FieldCfg), periph.CfgDSQSync)
//	p.Store(periph.EP(slot, periph.FieldMxPld), uint32(n))
package periph
