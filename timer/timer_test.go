package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kos-sim/kos/kclock"
)

func TestOneshotFiresOnce(t *testing.T) {
	s := New(kclock.NewDefault())
	s.StartDriver()
	defer s.StopDriver()

	var fires int32
	id, err := s.Create(Oneshot, 0, func(uint64, interface{}) {
		atomic.AddInt32(&fires, 1)
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.StartAfter(id, int64(50*time.Millisecond)))

	time.Sleep(150 * time.Millisecond)

	info, ok := s.Info(id)
	require.True(t, ok)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fires))
	assert.Equal(t, Expired, info.State)
	assert.EqualValues(t, 1, info.FireCount)
}

func TestPeriodicFiresRepeatedly(t *testing.T) {
	s := New(kclock.NewDefault())
	s.StartDriver()
	defer s.StopDriver()

	var fires int32
	id, err := s.Create(Periodic, int64(10*time.Millisecond), func(uint64, interface{}) {
		atomic.AddInt32(&fires, 1)
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.StartAfter(id, int64(10*time.Millisecond)))

	time.Sleep(105 * time.Millisecond)

	n := atomic.LoadInt32(&fires)
	assert.GreaterOrEqual(t, n, int32(8))
	assert.LessOrEqual(t, n, int32(13))
}

func TestStopPreventsFiring(t *testing.T) {
	s := New(kclock.NewDefault())
	s.StartDriver()
	defer s.StopDriver()

	var fires int32
	id, err := s.Create(Oneshot, 0, func(uint64, interface{}) {
		atomic.AddInt32(&fires, 1)
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.StartAfter(id, int64(50*time.Millisecond)))
	require.NoError(t, s.Stop(id))

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&fires))
}

func TestDoubleStartRejected(t *testing.T) {
	s := New(kclock.NewDefault())
	id, err := s.Create(Oneshot, 0, func(uint64, interface{}) {}, nil)
	require.NoError(t, err)
	require.NoError(t, s.StartAfter(id, int64(time.Second)))
	err = s.StartAfter(id, int64(time.Second))
	require.Error(t, err)
}

func TestHRQueueOrdering(t *testing.T) {
	s := New(kclock.NewDefault())

	var order []int
	makeTimer := func(tag int) uint64 {
		id, err := s.Create(HRTimer, 0, func(uint64, interface{}) {
			order = append(order, tag)
		}, nil)
		require.NoError(t, err)
		return id
	}

	now := int64(s.clock.NowNanos())
	idLate := makeTimer(3)
	idMid := makeTimer(2)
	idEarly := makeTimer(1)

	require.NoError(t, s.Start(idLate, now+300))
	require.NoError(t, s.Start(idMid, now+200))
	require.NoError(t, s.Start(idEarly, now+100))

	s.Tick()
	time.Sleep(time.Millisecond)
	s.Tick()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPeriodicIntervalRequired(t *testing.T) {
	s := New(kclock.NewDefault())
	_, err := s.Create(Periodic, 0, func(uint64, interface{}) {}, nil)
	require.Error(t, err)
}
