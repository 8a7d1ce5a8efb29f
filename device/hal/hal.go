package hal

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Speed is the bus speed a device operates at.
type Speed uint8

// Bus speeds.
const (
	SpeedUnknown Speed = iota // not connected
	SpeedLow                  // 1.5 Mbit/s
	SpeedFull                 // 12 Mbit/s
	SpeedHigh                 // 480 Mbit/s
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// EndpointConfig describes a data endpoint of the active configuration as
// it appears in the endpoint descriptor.
type EndpointConfig struct {
	Address       uint8  // endpoint number with direction bit 7
	Attributes    uint8  // transfer type in bits 1:0
	MaxPacketSize uint16 // bits 10:0 are the packet size
	Interval      uint8
}

// Number returns the endpoint number.
func (e EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn reports whether the endpoint sends data to the host.
func (e EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type bits.
func (e EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// SetupPacketSize is the size of a SETUP packet in bytes.
const SetupPacketSize = 8

// SetupPacket is a decoded control request header. Multi-byte fields are
// little-endian on the wire.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// ParseSetupPacket decodes the first SetupPacketSize bytes of data into out.
// It returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:])
	out.Index = binary.LittleEndian.Uint16(data[4:])
	out.Length = binary.LittleEndian.Uint16(data[6:])
	return true
}

// MarshalTo encodes the packet into buf and returns SetupPacketSize, or 0
// if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:], s.Value)
	binary.LittleEndian.PutUint16(buf[4:], s.Index)
	binary.LittleEndian.PutUint16(buf[6:], s.Length)
	return SetupPacketSize
}

// IsDeviceToHost reports whether the data stage, if any, is IN.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&0x80 != 0
}

func (s SetupPacket) String() string {
	return fmt.Sprintf("bmRequestType=0x%02X bRequest=0x%02X wValue=0x%04X wIndex=0x%04X wLength=%d",
		s.RequestType, s.Request, s.Value, s.Index, s.Length)
}

// DeviceHAL is the blocking interface a device stack drives a controller
// through. The stack runs in ordinary goroutines; implementations hand
// interrupt-time events over to the blocked callers.
type DeviceHAL interface {
	// Init brings the controller to a known state and attaches to the bus.
	Init(ctx context.Context) error

	// Start enables delivery of controller interrupts.
	Start() error

	// Stop detaches from the bus and releases every waiter.
	Stop() error

	// SetAddress assigns the device address. The status stage of the
	// SET_ADDRESS request is acknowledged by the implementation.
	SetAddress(address uint8) error

	// ConfigureEndpoints opens the data endpoints of the active
	// configuration.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	// ReadSetup blocks until a SETUP packet arrives.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// WriteEP0 sends a control IN data stage and blocks until the host has
	// acknowledged every packet of it.
	WriteEP0(ctx context.Context, data []byte) error

	// ReadEP0 receives a control OUT data or status stage into buf.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	// StallEP0 rejects the current control request.
	StallEP0() error

	// AckEP0 queues the zero-length status stage of a control request.
	AckEP0() error

	// Read receives an OUT transfer into buf and returns the bytes received.
	Read(ctx context.Context, address uint8, buf []byte) (int, error)

	// Write sends data on an IN endpoint and returns the bytes sent.
	Write(ctx context.Context, address uint8, data []byte) (int, error)

	// Stall halts a data endpoint.
	Stall(address uint8) error

	// ClearStall resumes a halted data endpoint with DATA0.
	ClearStall(address uint8) error

	// IsConnected reports whether the host has reset the device since
	// Start.
	IsConnected() bool

	// GetSpeed returns the bus speed.
	GetSpeed() Speed

	// WaitConnect blocks until the host resets the device.
	WaitConnect(ctx context.Context) error

	// WaitDisconnect blocks until the device is stopped.
	WaitDisconnect(ctx context.Context) error
}
