// Package hal defines the blocking interface between a USB device stack and
// a device controller driver.
//
// A device stack processes control requests and class traffic in ordinary
// goroutines: it blocks in [DeviceHAL.ReadSetup] for the next request,
// answers it with [DeviceHAL.WriteEP0], [DeviceHAL.ReadEP0] or
// [DeviceHAL.AckEP0], and moves class data with [DeviceHAL.Read] and
// [DeviceHAL.Write]. The controller driver underneath reports completions
// from interrupt context; a HAL implementation turns those reports into the
// returns of the blocked calls.
//
// Every blocking method takes a context and returns ctx.Err() when it is
// cancelled. A bus reset releases pending calls with pkg.ErrReset.
//
// The implementation for the NUC121/NUC126 USBD controller lives in
// [github.com/ardnew/usbd/device/hal/usbd].
package hal
