package dcd

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbd/device/periph"
	"github.com/ardnew/usbd/pkg"
)

func TestDecodeAddress(t *testing.T) {
	tests := []struct {
		cfg    uint32
		want   uint8
		wantOK bool
	}{
		{0, 0, false},
		{periph.CfgStateIn, 0x80, true},
		{periph.CfgStateOut, 0x00, true},
		{3 | periph.CfgStateIn | periph.CfgDSQSync, 0x83, true},
		{5 | periph.CfgStateOut | periph.CfgISOCH, 0x05, true},
		{7, 0, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%#x", tt.cfg), func(t *testing.T) {
			got, ok := decodeAddress(tt.cfg)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpointOpenSlotOrder(t *testing.T) {
	b := newBench(t, DefaultConfig())

	addrs := []uint8{0x81, 0x01, 0x82, 0x02, 0x83, 0x03}
	for i, addr := range addrs {
		slot := b.open(t, addr, TransferTypeBulk, 64)
		assert.Equal(t, i+2, slot, "endpoint 0x%02X", addr)
	}

	_, err := b.c.EndpointOpen(EndpointDescriptor{Address: 0x84, Attributes: TransferTypeBulk, MaxPacketSize: 8})
	var ae *AllocationError
	require.True(t, errors.As(err, &ae), "err = %v", err)
	assert.ErrorIs(t, err, pkg.ErrNoFreeSlot)
	assert.Equal(t, uint8(0x84), ae.Address)

	used, _ := b.c.BufferUsage()
	assert.Equal(t, 6*64, used, "failed open consumed no packet RAM")
}

func TestEndpointOpenMemoryExhaustion(t *testing.T) {
	b := newBench(t, DefaultConfig())

	assert.Equal(t, 2, b.open(t, 0x81, TransferTypeBulk, 512))
	assert.Equal(t, 3, b.open(t, 0x02, TransferTypeBulk, 64))

	_, err := b.c.EndpointOpen(EndpointDescriptor{Address: 0x83, Attributes: TransferTypeInterrupt, MaxPacketSize: 64})
	assert.ErrorIs(t, err, pkg.ErrNoMemory)
	_, ok := b.c.Lookup(0x83)
	assert.False(t, ok)

	slot := b.open(t, 0x83, TransferTypeInterrupt, 56)
	assert.Equal(t, 4, slot, "the failed open left slot 4 free")
	info, ok := b.c.Lookup(0x83)
	require.True(t, ok)
	assert.Equal(t, 136+512+64, info.BufferOffset)

	_, free := b.c.BufferUsage()
	assert.Equal(t, 0, free)
}

func TestEndpointOpenRejects(t *testing.T) {
	b := newBench(t, DefaultConfig())
	b.open(t, 0x81, TransferTypeBulk, 64)

	tests := []struct {
		name string
		desc EndpointDescriptor
	}{
		{"control IN", EndpointDescriptor{Address: 0x80, MaxPacketSize: 64}},
		{"control OUT", EndpointDescriptor{Address: 0x00, MaxPacketSize: 64}},
		{"zero size", EndpointDescriptor{Address: 0x02, Attributes: TransferTypeBulk}},
		{"oversized", EndpointDescriptor{Address: 0x83, Attributes: TransferTypeIsochronous, MaxPacketSize: 600}},
		{"already open", EndpointDescriptor{Address: 0x81, Attributes: TransferTypeBulk, MaxPacketSize: 64}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.c.EndpointOpen(tt.desc)
			assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
		})
	}

	used, _ := b.c.BufferUsage()
	assert.Equal(t, 64, used, "rejected opens consumed no packet RAM")
	assert.False(t, b.c.Slots()[3].Open)
}

func TestEndpointOpenLargestPacket(t *testing.T) {
	size := int(periph.MxPldMask)
	b := newBench(t, DefaultConfig())
	b.reset(t)
	b.open(t, 0x81, TransferTypeIsochronous, uint16(size))
	info, ok := b.c.Lookup(0x81)
	require.True(t, ok)
	assert.Equal(t, size, info.MaxPacket)

	data := pattern(size)
	require.NoError(t, b.c.EndpointTransfer(0x81, data))
	pkt, err := b.u.In(0, 1)
	require.NoError(t, err)
	assert.Equal(t, data, pkt.Data)

	done := b.rec.ofKind(EventTransferComplete)
	require.Len(t, done, 1)
	assert.Equal(t, size, done[0].Actual)
	info, _ = b.c.Lookup(0x81)
	assert.False(t, info.Busy)
}

func TestEndpointOpenIsochronousTag(t *testing.T) {
	b := newBench(t, DefaultConfig())
	b.open(t, 0x01, TransferTypeIsochronous, 192)
	b.open(t, 0x82, TransferTypeInterrupt, 8)

	iso, _ := b.c.Lookup(0x01)
	intr, _ := b.c.Lookup(0x82)
	assert.True(t, iso.Isochronous)
	assert.False(t, intr.Isochronous)
	assert.Equal(t, 192, iso.MaxPacket)
}

func TestSlotUniqueness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		b := newBench(t, DefaultConfig())
		opened := map[uint8]int{}
		for i := 0; i < 10; i++ {
			addr := uint8(rng.Intn(15)+1) | uint8(rng.Intn(2))<<7
			slot, err := b.c.EndpointOpen(EndpointDescriptor{
				Address:       addr,
				Attributes:    TransferTypeBulk,
				MaxPacketSize: uint16(8 << rng.Intn(4)),
			})
			if err != nil {
				continue
			}
			opened[addr] = slot
		}

		seen := map[int]uint8{}
		for addr, slot := range opened {
			info, ok := b.c.Lookup(addr)
			require.True(t, ok)
			require.Equal(t, slot, info.Index)
			if other, dup := seen[slot]; dup {
				t.Fatalf("endpoints 0x%02X and 0x%02X share slot %d", addr, other, slot)
			}
			seen[slot] = addr
		}
		used, free := b.c.BufferUsage()
		require.Equal(t, 768-136, used+free)
	}
}

func TestStallAndClearStall(t *testing.T) {
	b := newBench(t, DefaultConfig())
	b.reset(t)
	b.open(t, 0x81, TransferTypeBulk, 64)

	// Leave the toggle at DATA1.
	require.NoError(t, b.c.EndpointTransfer(0x81, pattern(8)))
	pkt, err := b.u.In(0, 1)
	require.NoError(t, err)
	assert.False(t, pkt.Data1)

	require.NoError(t, b.c.EndpointStall(0x81))
	info, _ := b.c.Lookup(0x81)
	assert.True(t, info.Stalled)
	assert.True(t, info.Data1)

	require.NoError(t, b.c.EndpointTransfer(0x81, pattern(8)))
	_, err = b.u.In(0, 1)
	assert.ErrorIs(t, err, pkg.ErrStall)

	require.NoError(t, b.c.EndpointClearStall(0x81))
	info, _ = b.c.Lookup(0x81)
	assert.False(t, info.Stalled)
	assert.False(t, info.Data1)

	pkt, err = b.u.In(0, 1)
	require.NoError(t, err)
	assert.False(t, pkt.Data1, "first packet after clear stall is DATA0")
	assert.Equal(t, pattern(8), pkt.Data)
}

func TestStallUnknownEndpoint(t *testing.T) {
	b := newBench(t, DefaultConfig())
	assert.ErrorIs(t, b.c.EndpointStall(0x85), pkg.ErrInvalidEndpoint)
	assert.ErrorIs(t, b.c.EndpointClearStall(0x05), pkg.ErrInvalidEndpoint)
}
