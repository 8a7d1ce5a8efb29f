// Package device is the root of the NUC121/NUC126 USB device controller
// driver.
//
// The driver is split in layers, lowest first:
//
//   - [github.com/ardnew/usbd/device/periph] defines the register map and
//     the [periph.Peripheral] access interface. Its sim subpackage models
//     the controller and the host side of the bus.
//   - [github.com/ardnew/usbd/device/dcd] is the controller driver: packet
//     RAM allocation, endpoint slots, the transfer engine and the interrupt
//     handler. It reports bus and transfer events to a [dcd.Handler].
//   - [github.com/ardnew/usbd/device/hal] defines [hal.DeviceHAL], the
//     blocking interface a device stack drives, and its usbd subpackage
//     adapts a controller to it.
//
// A typical simulated setup:
//
//	u := sim.New(sim.Config{})
//	h := usbd.New(u, u, dcd.DefaultConfig())
//	u.Attach(h.ISR)
//	if err := h.Init(ctx); err != nil {
//		return err
//	}
//	return h.Start()
package device
