package usbd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbd/device/dcd"
	"github.com/ardnew/usbd/device/hal"
	"github.com/ardnew/usbd/device/periph/sim"
	"github.com/ardnew/usbd/pkg"
)

const waitFor = 2 * time.Second

type rig struct {
	h *HAL
	u *sim.USBD
}

func newRig(t *testing.T) *rig {
	t.Helper()
	u := sim.New(sim.DefaultConfig())
	h := New(u, u, dcd.DefaultConfig())
	u.Attach(h.ISR)
	require.NoError(t, h.Init(context.Background()))
	require.NoError(t, h.Start())
	t.Cleanup(func() { h.Stop() })
	return &rig{h: h, u: u}
}

func (r *rig) connect(t *testing.T) {
	t.Helper()
	r.u.BusReset()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, r.h.WaitConnect(ctx))
	assert.True(t, r.h.IsConnected())
}

// hostIn polls an IN endpoint until the device answers with data.
func (r *rig) hostIn(t *testing.T, addr, ep uint8) sim.Packet {
	t.Helper()
	var pkt sim.Packet
	require.Eventually(t, func() bool {
		p, err := r.u.In(addr, ep)
		if err != nil {
			return false
		}
		pkt = p
		return true
	}, waitFor, time.Millisecond)
	return pkt
}

// hostOut retries an OUT transaction until the device accepts it.
func (r *rig) hostOut(t *testing.T, addr, ep uint8, data []byte) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.u.Out(addr, ep, data) == nil
	}, waitFor, time.Millisecond)
}

func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i + 0x40)
	}
	return buf
}

type result struct {
	n   int
	err error
}

func TestControlRead(t *testing.T) {
	r := newRig(t)
	r.connect(t)
	ctx := context.Background()

	require.NoError(t, r.u.Setup(0, [8]byte{0x80, 0x06, 0x00, 0x02, 0x00, 0x00, 0x64, 0x00}))
	var setup hal.SetupPacket
	require.NoError(t, r.h.ReadSetup(ctx, &setup))
	assert.Equal(t, hal.SetupPacket{RequestType: 0x80, Request: 0x06, Value: 0x0200, Length: 100}, setup)

	data := pattern(100)
	errc := make(chan error, 1)
	go func() { errc <- r.h.WriteEP0(ctx, data) }()

	first := r.hostIn(t, 0, 0)
	second := r.hostIn(t, 0, 0)
	require.NoError(t, <-errc)
	assert.True(t, first.Data1)
	assert.False(t, second.Data1)
	assert.Equal(t, data, append(first.Data, second.Data...))

	done := make(chan result, 1)
	go func() {
		n, err := r.h.ReadEP0(ctx, nil)
		done <- result{n, err}
	}()
	r.hostOut(t, 0, 0, nil)
	res := <-done
	require.NoError(t, res.err)
	assert.Zero(t, res.n)
}

func TestSetAddressStatusStage(t *testing.T) {
	r := newRig(t)
	r.connect(t)

	require.NoError(t, r.u.Setup(0, [8]byte{0x00, 0x05, 0x03}))
	var setup hal.SetupPacket
	require.NoError(t, r.h.ReadSetup(context.Background(), &setup))

	require.NoError(t, r.h.SetAddress(3))
	require.NoError(t, r.h.AckEP0())

	zlp := r.hostIn(t, 0, 0)
	assert.Empty(t, zlp.Data)
	assert.Equal(t, uint8(3), r.u.Address())
	assert.Equal(t, uint8(3), r.h.Controller().Address())

	_, err := r.u.In(3, 0)
	assert.ErrorIs(t, err, pkg.ErrNAK, "AckEP0 after SetAddress must not queue a second status packet")
}

func TestDataEndpoints(t *testing.T) {
	r := newRig(t)
	r.connect(t)
	ctx := context.Background()

	eps := []hal.EndpointConfig{
		{Address: 0x00, Attributes: 0x00, MaxPacketSize: 64},
		{Address: 0x81, Attributes: 0x02, MaxPacketSize: 64},
		{Address: 0x02, Attributes: 0x02, MaxPacketSize: 64},
	}
	require.NoError(t, r.h.ConfigureEndpoints(eps))
	require.NoError(t, r.h.ConfigureEndpoints(eps), "reconfiguring open endpoints")
	assert.Equal(t, dcd.StateConfigured, r.h.Controller().State())

	data := pattern(150)
	wrote := make(chan result, 1)
	go func() {
		n, err := r.h.Write(ctx, 0x81, data)
		wrote <- result{n, err}
	}()
	var got []byte
	for _, want := range []int{64, 64, 22} {
		pkt := r.hostIn(t, 0, 1)
		require.Len(t, pkt.Data, want)
		got = append(got, pkt.Data...)
	}
	res := <-wrote
	require.NoError(t, res.err)
	assert.Equal(t, 150, res.n)
	assert.Equal(t, data, got)

	buf := make([]byte, 256)
	read := make(chan result, 1)
	go func() {
		n, err := r.h.Read(ctx, 0x02, buf)
		read <- result{n, err}
	}()
	sent := pattern(74)
	r.hostOut(t, 0, 2, sent[:64])
	r.hostOut(t, 0, 2, sent[64:])
	res = <-read
	require.NoError(t, res.err)
	assert.Equal(t, 74, res.n)
	assert.Equal(t, sent, buf[:74])
}

func TestInvalidEndpoints(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, err := r.h.Read(ctx, 0x81, make([]byte, 8))
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
	_, err = r.h.Write(ctx, 0x01, []byte{1})
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
	_, err = r.h.Write(ctx, 0x80, []byte{1})
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
	_, err = r.h.Write(ctx, 0x83, []byte{1})
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint, "never opened")
}

func TestBusResetReleasesWaiters(t *testing.T) {
	r := newRig(t)
	r.connect(t)
	require.NoError(t, r.h.ConfigureEndpoints([]hal.EndpointConfig{{Address: 0x81, Attributes: 0x03, MaxPacketSize: 8}}))

	wrote := make(chan result, 1)
	go func() {
		n, err := r.h.Write(context.Background(), 0x81, pattern(8))
		wrote <- result{n, err}
	}()
	require.Eventually(t, func() bool {
		info, _ := r.h.Controller().Lookup(0x81)
		return info.Busy
	}, waitFor, time.Millisecond)

	r.u.BusReset()
	res := <-wrote
	assert.ErrorIs(t, res.err, pkg.ErrReset)

	info, _ := r.h.Controller().Lookup(0x81)
	assert.False(t, info.Busy)
}

func TestContextCancellation(t *testing.T) {
	r := newRig(t)
	r.connect(t)
	require.NoError(t, r.h.ConfigureEndpoints([]hal.EndpointConfig{{Address: 0x01, Attributes: 0x02, MaxPacketSize: 64}}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var setup hal.SetupPacket
	assert.ErrorIs(t, r.h.ReadSetup(ctx, &setup), context.DeadlineExceeded)

	_, err := r.h.Read(ctx, 0x01, make([]byte, 64))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = r.h.Read(context.Background(), 0x01, make([]byte, 64))
	assert.ErrorIs(t, err, pkg.ErrBusy, "abandoned transfer is still armed")
}

func TestLatestSetupWins(t *testing.T) {
	r := newRig(t)
	r.connect(t)

	require.NoError(t, r.u.Setup(0, [8]byte{0x80, 0x06, 0x00, 0x01}))
	require.NoError(t, r.u.Setup(0, [8]byte{0x80, 0x00}))

	var setup hal.SetupPacket
	require.NoError(t, r.h.ReadSetup(context.Background(), &setup))
	assert.Equal(t, uint8(0x00), setup.Request)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.h.ReadSetup(ctx, &setup), context.DeadlineExceeded)
}

func TestStallEP0(t *testing.T) {
	r := newRig(t)
	r.connect(t)

	require.NoError(t, r.u.Setup(0, [8]byte{0x80, 0x06, 0x00, 0x0F}))
	require.NoError(t, r.h.StallEP0())
	_, err := r.u.In(0, 0)
	assert.ErrorIs(t, err, pkg.ErrStall)

	// The next SETUP clears the stall.
	require.NoError(t, r.u.Setup(0, [8]byte{0x80, 0x06, 0x00, 0x01}))
	errc := make(chan error, 1)
	go func() { errc <- r.h.WriteEP0(context.Background(), pattern(18)) }()
	pkt := r.hostIn(t, 0, 0)
	require.NoError(t, <-errc)
	assert.Len(t, pkt.Data, 18)
}

func TestStopReleasesCallers(t *testing.T) {
	r := newRig(t)
	r.connect(t)

	errc := make(chan error, 1)
	go func() {
		var setup hal.SetupPacket
		errc <- r.h.ReadSetup(context.Background(), &setup)
	}()

	require.NoError(t, r.h.Stop())
	assert.ErrorIs(t, <-errc, pkg.ErrCancelled)
	assert.False(t, r.h.IsConnected())
	assert.NoError(t, r.h.WaitDisconnect(context.Background()))
	assert.False(t, r.u.Attached())
	assert.Equal(t, hal.SpeedFull, r.h.GetSpeed())
}
