package dcd

import "fmt"

// Endpoint transfer types (bmAttributes bits 1:0).
const (
	TransferTypeControl     = 0x00
	TransferTypeIsochronous = 0x01
	TransferTypeBulk        = 0x02
	TransferTypeInterrupt   = 0x03
)

// Endpoint address direction bit.
const DirIn = 0x80

// Control endpoint addresses.
const (
	EP0Out uint8 = 0x00
	EP0In  uint8 = 0x80
)

// EndpointDescriptor carries the fields of a USB endpoint descriptor the
// controller needs to open an endpoint.
type EndpointDescriptor struct {
	Address       uint8  // endpoint number and direction bit
	Attributes    uint8  // transfer type in bits 1:0
	MaxPacketSize uint16 // bits 10:0 are the packet size
	Interval      uint8
}

// Number returns the endpoint number (0-15).
func (d EndpointDescriptor) Number() uint8 {
	return d.Address & 0x0F
}

// IsIn reports whether the endpoint sends data to the host.
func (d EndpointDescriptor) IsIn() bool {
	return d.Address&DirIn != 0
}

// TransferType returns the transfer type.
func (d EndpointDescriptor) TransferType() uint8 {
	return d.Attributes & 0x03
}

// PacketSize returns the max packet size without the high-bandwidth bits.
func (d EndpointDescriptor) PacketSize() int {
	return int(d.MaxPacketSize & 0x07FF)
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case TransferTypeControl:
		return "control"
	case TransferTypeIsochronous:
		return "isochronous"
	case TransferTypeBulk:
		return "bulk"
	default:
		return "interrupt"
	}
}

// ParseTransferType maps a transfer type name to its attribute value.
func ParseTransferType(name string) (uint8, error) {
	for t := uint8(TransferTypeControl); t <= TransferTypeInterrupt; t++ {
		if TransferTypeName(t) == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown transfer type %q", name)
}

// AllocationError reports that an endpoint could not be opened because the
// controller ran out of slots or packet RAM. It wraps pkg.ErrNoFreeSlot or
// pkg.ErrNoMemory.
type AllocationError struct {
	Address uint8
	Size    int
	Err     error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("open endpoint 0x%02X (%d bytes): %v", e.Address, e.Size, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }
