package net

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kos-sim/kos/domain"
)

// TestTxThreePacketsServiceTask mirrors end-to-end scenario 3: create
// eth0, up(), enqueue three 128-byte packets via write; after the
// service task runs, tx_packets == 3 and tx_bytes == 384; down()
// drains both queues.
func TestTxThreePacketsServiceTask(t *testing.T) {
	p := New([6]byte{0x02, 0, 0, 0, 0, 1}, 0, nil)
	p.Up()
	p.StartService(time.Millisecond)
	defer p.StopService()

	payload := make([]byte, 128)
	for i := 0; i < 3; i++ {
		n, err := p.Write(payload, 0)
		require.NoError(t, err)
		assert.Equal(t, 128, n)
	}

	require.Eventually(t, func() bool {
		return p.Stats().TxPackets == 3
	}, time.Second, time.Millisecond)

	assert.EqualValues(t, 384, p.Stats().TxBytes)

	p.Down()
	rx, tx := p.QueueSizes()
	assert.Equal(t, 0, rx)
	assert.Equal(t, 0, tx)
}

func TestWriteRejectsOversizedPacket(t *testing.T) {
	p := New([6]byte{}, 100, nil)
	p.Up()
	_, err := p.Write(make([]byte, 200), 0)
	require.Error(t, err)
}

func TestWriteWhileDownFails(t *testing.T) {
	p := New([6]byte{}, 0, nil)
	_, err := p.Write([]byte("x"), 0)
	require.Error(t, err)
}

type stubInjector struct{ pkt []byte }

func (s *stubInjector) Poll() []byte {
	p := s.pkt
	s.pkt = nil
	return p
}

func TestRXInjectionAndOverflowDrops(t *testing.T) {
	inj := &stubInjector{}
	p := New([6]byte{}, 0, inj)
	p.depth = 2
	p.Up()
	p.StartService(time.Millisecond)
	defer p.StopService()

	for i := 0; i < 3; i++ {
		inj.pkt = []byte{byte(i)}
		require.Eventually(t, func() bool {
			return p.Stats().RxPackets > uint64(i)
		}, time.Second, time.Millisecond)
	}

	assert.GreaterOrEqual(t, p.Stats().RxDropped, uint64(1))
}

func TestNonblockReadReturnsBusyWhenEmpty(t *testing.T) {
	p := New([6]byte{}, 0, nil)
	p.Up()
	_, err := p.Read(16, domain.FlagNonblock)
	require.Error(t, err)
}
