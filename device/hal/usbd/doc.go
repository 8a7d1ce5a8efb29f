// Package usbd implements [hal.DeviceHAL] for the NUC121/NUC126 USBD
// controller driven by [dcd.Controller].
//
// The controller driver never blocks: it reports SETUP packets and transfer
// completions from its interrupt handler. HAL is installed as the driver's
// event handler and hands each report to the goroutine waiting for it over a
// buffered channel. A SETUP that arrives before the previous one was read
// replaces it. A bus reset releases every waiting transfer with
// pkg.ErrReset; Stop releases every waiter with pkg.ErrCancelled.
//
// Control IN data stages are split into EP0-sized packets here, since the
// driver moves one packet per control IN transfer.
//
// # Example
//
//	u := sim.New(sim.DefaultConfig())
//	h := usbd.New(u, u, dcd.DefaultConfig())
//	u.Attach(h.ISR)
//	if err := h.Init(ctx); err != nil {
//	    return err
//	}
//	h.Start()
//	if err := h.WaitConnect(ctx); err != nil {
//	    return err
//	}
//	var setup hal.SetupPacket
//	for h.ReadSetup(ctx, &setup) == nil {
//	    // answer the request
//	}
package usbd
