package pkg

import "errors"

// Driver and bus protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates the endpoint was not armed for the transaction.
	ErrNAK = errors.New("NAK received")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrOverrun indicates more data arrived than the endpoint was armed for.
	ErrOverrun = errors.New("data overrun")

	// ErrProtocol indicates an unrecognized transfer outcome.
	ErrProtocol = errors.New("protocol error")

	// ErrNoDevice indicates no device answered at the addressed bus location.
	ErrNoDevice = errors.New("device not present")

	// ErrInvalidEndpoint indicates an endpoint address that is not open.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoFreeSlot indicates every physical endpoint slot is already assigned.
	ErrNoFreeSlot = errors.New("no free endpoint slot")

	// ErrNoMemory indicates the packet buffer memory is exhausted.
	ErrNoMemory = errors.New("insufficient packet buffer memory")

	// ErrBusy indicates a transfer is already outstanding on the endpoint.
	ErrBusy = errors.New("resource busy")

	// ErrAlreadyRunning indicates the controller is already initialized.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the controller has not been initialized.
	ErrNotRunning = errors.New("not running")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")
)

// TransferStatus is the outcome reported with a transfer completion.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess TransferStatus = iota // every requested byte moved
	TransferStatusShort                         // OUT transfer ended on a short packet
	TransferStatusStall                         // endpoint stalled
	TransferStatusCancelled                     // aborted before completion
)

func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusShort:
		return "short"
	case TransferStatusStall:
		return "stall"
	case TransferStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error returns the error a caller waiting on the transfer should see. A
// short packet is a normal end of transfer and maps to nil.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess, TransferStatusShort:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusCancelled:
		return ErrCancelled
	default:
		return ErrProtocol
	}
}
