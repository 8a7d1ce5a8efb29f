package dcd

import (
	"fmt"

	"github.com/ardnew/usbd/pkg"
)

// EventKind identifies an upstream event.
type EventKind uint8

// Upstream events, each delivered once per occurrence from interrupt context.
const (
	EventBusReset EventKind = iota + 1
	EventSuspend
	EventResume
	EventStartOfFrame
	EventSetupReceived
	EventTransferComplete
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventBusReset:
		return "bus_reset"
	case EventSuspend:
		return "suspend"
	case EventResume:
		return "resume"
	case EventStartOfFrame:
		return "start_of_frame"
	case EventSetupReceived:
		return "setup_received"
	case EventTransferComplete:
		return "transfer_complete"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(name string) (EventKind, bool) {
	for k := EventBusReset; k <= EventTransferComplete; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// Event is a notification for the device stack.
type Event struct {
	Kind EventKind

	// TransferComplete fields. Length is the length the transfer was
	// started with (for the control IN endpoint, the packet length); Actual
	// is the number of bytes moved, which is smaller than Length when an OUT
	// transfer ended on a short packet.
	Address uint8
	Length  int
	Actual  int
	Status  pkg.TransferStatus

	// SetupReceived payload.
	Setup [SetupBufferSize]byte
}

// String returns a compact description of the event.
func (e Event) String() string {
	switch e.Kind {
	case EventTransferComplete:
		return fmt.Sprintf("%s ep=0x%02X len=%d actual=%d status=%s",
			e.Kind, e.Address, e.Length, e.Actual, e.Status)
	case EventSetupReceived:
		return fmt.Sprintf("%s % x", e.Kind, e.Setup[:])
	default:
		return e.Kind.String()
	}
}

// Handler receives upstream events. HandleEvent runs in interrupt context: it
// must not block, and may start transfers.
type Handler interface {
	HandleEvent(ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev Event)

// HandleEvent calls f(ev).
func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }

type nopHandler struct{}

func (nopHandler) HandleEvent(Event) {}
