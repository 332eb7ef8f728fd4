package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kos-sim/kos/device/net"
	"github.com/kos-sim/kos/device/tty"
	"github.com/kos-sim/kos/domain"
)

// TestCharDeviceIOGoesThroughOps registers a char device and drives
// its I/O purely through Device.Ops, never touching the char.Pipeline
// directly, proving the registry and the pipeline are actually wired
// together (not two disconnected subsystems).
func TestCharDeviceIOGoesThroughOps(t *testing.T) {
	r := New()
	_, p, err := r.NewCharDevice("pipe0", 64)
	require.NoError(t, err)

	found, err := r.FindByName("pipe0")
	require.NoError(t, err)
	defer r.Put(found)
	assert.Same(t, p, found.Sub)

	n, err := found.Ops.Write(&domain.IORequest{Buf: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	out := make([]byte, 5)
	n, err = found.Ops.Read(&domain.IORequest{Buf: out})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(out))

	_, err = found.Ops.Ioctl(domain.IoctlGetInfo, nil)
	require.NoError(t, err)
}

// TestBlockDeviceIOGoesThroughOps is the block-class counterpart:
// offset-addressed I/O driven entirely through Ops, with Flush
// reaching the pipeline's Fsync.
func TestBlockDeviceIOGoesThroughOps(t *testing.T) {
	r := New()
	d, p, err := r.NewBlockDevice("disk0", 64, 512, 4)
	require.NoError(t, err)
	assert.Same(t, p, d.Sub)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = 0x42
	}
	n, err := d.Ops.Write(&domain.IORequest{Offset: 512, Buf: payload})
	require.NoError(t, err)
	assert.Equal(t, 512, n)

	out := make([]byte, 512)
	n, err = d.Ops.Read(&domain.IORequest{Offset: 512, Buf: out})
	require.NoError(t, err)
	assert.Equal(t, 512, n)
	assert.Equal(t, payload, out)

	require.NoError(t, d.Ops.Flush())
}

type stubInjector struct{}

func (stubInjector) Poll() []byte { return nil }

// TestNetDeviceIOGoesThroughOps drives a packet write through Ops and
// confirms the background service task drains it into TX stats.
func TestNetDeviceIOGoesThroughOps(t *testing.T) {
	r := New()
	d, p, err := r.NewNetDevice("eth0", [6]byte{0, 1, 2, 3, 4, 5}, net.DefaultMTU, stubInjector{})
	require.NoError(t, err)
	p.Up()
	p.StartService(time.Millisecond)
	defer p.StopService()

	n, err := d.Ops.Write(&domain.IORequest{Buf: []byte("packet-one")})
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	require.Eventually(t, func() bool {
		return p.Stats().TxPackets == 1
	}, 200*time.Millisecond, time.Millisecond)
	assert.Equal(t, uint64(10), p.Stats().TxBytes)
}

type discardSink struct{}

func (discardSink) Deliver(pgrp int, sig tty.Signal) {}

// TestTTYDeviceIOGoesThroughOps feeds a line through Ops.Write and
// reads it back through Ops.Read, exercising the adapter that turns a
// byte-slice Write into per-character Feed calls.
func TestTTYDeviceIOGoesThroughOps(t *testing.T) {
	r := New()
	d, _, err := r.NewTTYDevice("tty0", discardSink{})
	require.NoError(t, err)

	n, err := d.Ops.Write(&domain.IORequest{Buf: []byte("hi\n")})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	out := make([]byte, 16)
	n, err = d.Ops.Read(&domain.IORequest{Buf: out})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(out[:n]))
}
