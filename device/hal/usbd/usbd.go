package usbd

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/usbd/device/dcd"
	"github.com/ardnew/usbd/device/hal"
	"github.com/ardnew/usbd/device/periph"
	"github.com/ardnew/usbd/pkg"
)

// numEndpoints covers endpoint numbers 0-15 in both directions.
const numEndpoints = 32

func endpointIndex(addr uint8) int {
	idx := int(addr & 0x0F)
	if addr&dcd.DirIn != 0 {
		idx += 16
	}
	return idx
}

// HAL implements hal.DeviceHAL on top of a dcd.Controller.
//
// The controller reports SETUP packets and transfer completions from its
// interrupt handler. HAL receives them as the controller's event handler and
// forwards them over buffered channels without blocking; the goroutine that
// started the operation waits on the other end.
type HAL struct {
	ctrl *dcd.Controller

	setupCh chan [dcd.SetupBufferSize]byte
	doneCh  [numEndpoints]chan dcd.Event

	// resetCh is closed by a bus reset and replaced, releasing every
	// waiter that started before it.
	resetCh atomic.Pointer[chan struct{}]

	// addressAck is set while the SET_ADDRESS status stage armed by
	// SetAddress is outstanding, so the following AckEP0 does not arm it
	// again.
	addressAck atomic.Bool

	connected atomic.Bool
	connectCh chan struct{}
	disconnCh chan struct{}

	mutex     sync.Mutex
	closeCh   chan struct{}
	closeOnce sync.Once
}

// Compile-time interface check.
var _ hal.DeviceHAL = (*HAL)(nil)

// New creates a HAL driving the controller on p. irq gates the controller
// interrupt; the caller routes the interrupt itself to [HAL.ISR].
func New(p periph.Peripheral, irq periph.IRQ, cfg dcd.Config) *HAL {
	h := &HAL{
		setupCh:   make(chan [dcd.SetupBufferSize]byte, 1),
		connectCh: make(chan struct{}, 1),
		disconnCh: make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
	for i := range h.doneCh {
		h.doneCh[i] = make(chan dcd.Event, 1)
	}
	reset := make(chan struct{})
	h.resetCh.Store(&reset)
	h.ctrl = dcd.New(p, irq, h, cfg)
	return h
}

// Controller returns the underlying controller driver.
func (h *HAL) Controller() *dcd.Controller {
	return h.ctrl
}

// ISR is the interrupt entry point.
func (h *HAL) ISR() {
	h.ctrl.ISR()
}

// HandleEvent implements dcd.Handler. It runs in interrupt context.
func (h *HAL) HandleEvent(ev dcd.Event) {
	switch ev.Kind {
	case dcd.EventBusReset:
		h.addressAck.Store(false)
		drainSetup(h.setupCh)
		for _, ch := range h.doneCh {
			drainDone(ch)
		}
		next := make(chan struct{})
		close(*h.resetCh.Swap(&next))
		h.connected.Store(true)
		select {
		case h.connectCh <- struct{}{}:
		default:
		}
		pkg.LogDebug(pkg.ComponentHAL, "bus reset")

	case dcd.EventSetupReceived:
		// A new SETUP replaces one nobody has read yet.
		select {
		case h.setupCh <- ev.Setup:
		default:
			drainSetup(h.setupCh)
			select {
			case h.setupCh <- ev.Setup:
			default:
			}
		}

	case dcd.EventTransferComplete:
		select {
		case h.doneCh[endpointIndex(ev.Address)] <- ev:
		default:
			pkg.LogDebug(pkg.ComponentHAL, "completion dropped", "address", ev.Address)
		}

	case dcd.EventSuspend, dcd.EventResume:
		pkg.LogDebug(pkg.ComponentHAL, "bus power state", "event", ev.Kind)
	}
}

func drainSetup(ch chan [dcd.SetupBufferSize]byte) {
	select {
	case <-ch:
	default:
	}
}

func drainDone(ch chan dcd.Event) {
	select {
	case <-ch:
	default:
	}
}

// Init initializes the controller, which attaches the device to the bus.
func (h *HAL) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.ctrl.Init()
}

// Start enables the controller interrupt.
func (h *HAL) Start() error {
	h.ctrl.InterruptEnable()
	pkg.LogInfo(pkg.ComponentHAL, "usbd HAL started")
	return nil
}

// Stop disables the controller and releases every blocked caller with
// pkg.ErrCancelled.
func (h *HAL) Stop() error {
	h.ctrl.InterruptDisable()
	err := h.ctrl.Deinit()

	h.connected.Store(false)
	select {
	case h.disconnCh <- struct{}{}:
	default:
	}
	h.closeOnce.Do(func() {
		close(h.closeCh)
	})
	pkg.LogInfo(pkg.ComponentHAL, "usbd HAL stopped")
	return err
}

// SetAddress records the address and arms the status stage. The address
// takes effect once the host has acknowledged it.
func (h *HAL) SetAddress(address uint8) error {
	h.addressAck.Store(true)
	h.ctrl.SetAddress(address)
	return nil
}

// ConfigureEndpoints opens every data endpoint in endpoints that is not open
// yet. Endpoints stay open until the controller is reset.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, ep := range endpoints {
		if ep.Number() == 0 {
			continue
		}
		if _, ok := h.ctrl.Lookup(ep.Address); ok {
			continue
		}
		_, err := h.ctrl.EndpointOpen(dcd.EndpointDescriptor{
			Address:       ep.Address,
			Attributes:    ep.Attributes,
			MaxPacketSize: ep.MaxPacketSize,
			Interval:      ep.Interval,
		})
		if err != nil {
			return fmt.Errorf("configure endpoint 0x%02X: %w", ep.Address, err)
		}
	}
	h.ctrl.SetConfiguration(1)
	pkg.LogDebug(pkg.ComponentHAL, "endpoints configured", "count", len(endpoints))
	return nil
}

// ReadSetup blocks until a SETUP packet arrives.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case raw := <-h.setupCh:
		hal.ParseSetupPacket(raw[:], out)
		pkg.LogDebug(pkg.ComponentHAL, "setup received", "request", out.String())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.closeCh:
		return pkg.ErrCancelled
	}
}

// WriteEP0 sends data as a sequence of control IN packets. An empty data
// sends a zero-length packet.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	mps := h.ctrl.Config().EP0Size
	for off := 0; ; {
		n := min(len(data)-off, mps)
		if _, err := h.transfer(ctx, dcd.EP0In, data[off:off+n]); err != nil {
			return err
		}
		off += n
		if off >= len(data) {
			return nil
		}
	}
}

// ReadEP0 receives a control OUT stage. A zero-length buf waits for the
// status stage.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	return h.transfer(ctx, dcd.EP0Out, buf)
}

// StallEP0 stalls both control endpoints until the next SETUP.
func (h *HAL) StallEP0() error {
	if err := h.ctrl.EndpointStall(dcd.EP0In); err != nil {
		return err
	}
	return h.ctrl.EndpointStall(dcd.EP0Out)
}

// AckEP0 arms the zero-length status stage and returns without waiting for
// the host.
func (h *HAL) AckEP0() error {
	if h.addressAck.Swap(false) {
		return nil
	}
	return h.ctrl.EndpointTransfer(dcd.EP0In, nil)
}

// Read receives an OUT transfer. It returns when buf is full or the host
// sends a short packet.
func (h *HAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	if address&dcd.DirIn != 0 || address&0x0F == 0 {
		return 0, fmt.Errorf("%w: 0x%02X is not an OUT data endpoint", pkg.ErrInvalidEndpoint, address)
	}
	return h.transfer(ctx, address, buf)
}

// Write sends data on an IN endpoint.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	if address&dcd.DirIn == 0 || address&0x0F == 0 {
		return 0, fmt.Errorf("%w: 0x%02X is not an IN data endpoint", pkg.ErrInvalidEndpoint, address)
	}
	return h.transfer(ctx, address, data)
}

// Stall stalls a data endpoint.
func (h *HAL) Stall(address uint8) error {
	return h.ctrl.EndpointStall(address)
}

// ClearStall clears the stall and resets the toggle of a data endpoint.
func (h *HAL) ClearStall(address uint8) error {
	return h.ctrl.EndpointClearStall(address)
}

// IsConnected reports whether a bus reset has been seen since Start.
func (h *HAL) IsConnected() bool {
	return h.connected.Load()
}

// GetSpeed returns hal.SpeedFull; the controller is full-speed only.
func (h *HAL) GetSpeed() hal.Speed {
	return hal.SpeedFull
}

// WaitConnect blocks until the host resets the device.
func (h *HAL) WaitConnect(ctx context.Context) error {
	if h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.connectCh:
		return nil
	case <-h.closeCh:
		return pkg.ErrCancelled
	}
}

// WaitDisconnect blocks until Stop is called.
func (h *HAL) WaitDisconnect(ctx context.Context) error {
	if !h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.disconnCh:
		return nil
	case <-h.closeCh:
		return nil
	}
}

// transfer starts a transfer on addr and waits for its completion.
//
// A cancelled context leaves the transfer armed: the endpoint reports
// pkg.ErrBusy until the host completes it or resets the bus.
func (h *HAL) transfer(ctx context.Context, addr uint8, buf []byte) (int, error) {
	reset := *h.resetCh.Load()
	done := h.doneCh[endpointIndex(addr)]
	drainDone(done)

	if err := h.ctrl.EndpointTransfer(addr, buf); err != nil {
		return 0, err
	}
	select {
	case ev := <-done:
		return ev.Actual, ev.Status.Error()
	case <-reset:
		return 0, pkg.ErrReset
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.closeCh:
		return 0, pkg.ErrCancelled
	}
}
