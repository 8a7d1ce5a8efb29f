package dcd

import (
	"fmt"

	"github.com/ardnew/usbd/device/periph"
	"github.com/ardnew/usbd/pkg"
)

// BusState is the device's view of the bus.
type BusState uint32

// Bus states.
const (
	StateDetached   BusState = iota // pull-up disabled or no VBUS
	StateAttached                   // pull-up enabled, awaiting bus reset
	StateReset                      // reset seen, default or addressed
	StateConfigured                 // host selected a configuration
	StateSuspended                  // bus idle
)

// String returns a human-readable state name.
func (s BusState) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateAttached:
		return "attached"
	case StateReset:
		return "reset"
	case StateConfigured:
		return "configured"
	case StateSuspended:
		return "suspended"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// ParseBusState is the inverse of BusState.String.
func ParseBusState(name string) (BusState, bool) {
	for s := StateDetached; s <= StateSuspended; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// State returns the current bus state.
func (c *Controller) State() BusState {
	return BusState(c.state.Load())
}

func (c *Controller) setState(s BusState) {
	old := BusState(c.state.Swap(uint32(s)))
	if old != s {
		pkg.LogDebug(pkg.ComponentBus, "bus state", "from", old, "to", s)
	}
}

// attach enables the D+ pull-up.
func (c *Controller) attach() {
	periph.ClearBits(c.p, periph.RegSE0, periph.SE0)
	c.setState(StateAttached)
}

// detach drives SE0, which removes the device from the bus.
func (c *Controller) detach() {
	periph.SetBits(c.p, periph.RegSE0, periph.SE0)
	c.setState(StateDetached)
}

// Attach connects the device to the bus.
func (c *Controller) Attach() {
	c.attach()
}

// Detach disconnects the device from the bus without touching the endpoint
// configuration.
func (c *Controller) Detach() {
	c.detach()
}

// Attached reports whether the pull-up is enabled.
func (c *Controller) Attached() bool {
	return !periph.HasBits(c.p, periph.RegSE0, periph.SE0)
}

// RemoteWakeup pulses the resume signal.
func (c *Controller) RemoteWakeup() {
	periph.SetBits(c.p, periph.RegAttr, periph.AttrRWakeup)
	periph.ClearBits(c.p, periph.RegAttr, periph.AttrRWakeup)
	pkg.LogDebug(pkg.ComponentBus, "remote wakeup")
}

// transceiverOn enables the controller and the analog transceiver.
func (c *Controller) transceiverOn() {
	periph.SetBits(c.p, periph.RegAttr, periph.AttrUSBEN|periph.AttrPHYEN)
}

func (c *Controller) onVBus(present bool) {
	if present {
		c.transceiverOn()
		if c.State() == StateDetached && c.Attached() {
			c.setState(StateAttached)
		}
		pkg.LogDebug(pkg.ComponentBus, "VBUS present")
		return
	}
	periph.ClearBits(c.p, periph.RegAttr, periph.AttrUSBEN)
	c.setState(StateDetached)
	pkg.LogDebug(pkg.ComponentBus, "VBUS lost")
}

func (c *Controller) onSuspend() {
	periph.ClearBits(c.p, periph.RegAttr, periph.AttrPHYEN)
	if s := c.State(); s != StateSuspended {
		c.resumeState.Store(uint32(s))
		c.setState(StateSuspended)
	}
}

func (c *Controller) onResume() {
	c.transceiverOn()
	if c.State() == StateSuspended {
		c.setState(BusState(c.resumeState.Load()))
	}
}
