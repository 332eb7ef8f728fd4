package seccomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kos-sim/kos/domain"
)

func TestDisabledModeAllowsEverything(t *testing.T) {
	e := New()
	assert.Equal(t, domain.ActAllow, e.Check(1, 999, nil))
}

func TestStrictModeAllowsOnlySafeSet(t *testing.T) {
	e := New()
	require.NoError(t, e.SetMode(1, domain.FilterStrict))

	assert.Equal(t, domain.ActAllow, e.Check(1, 0, nil))
	assert.Equal(t, domain.ActKillProcess, e.Check(1, 59, nil))
}

func TestModeLatticeRejectsDecrease(t *testing.T) {
	e := New()
	require.NoError(t, e.SetMode(1, domain.FilterFiltering))
	err := e.SetMode(1, domain.FilterStrict)
	require.Error(t, err)
}

func TestFilterModeFirstMatchWins(t *testing.T) {
	e := New()
	require.NoError(t, e.SetMode(1, domain.FilterFiltering))
	e.AddFilter(1, domain.SyscallFilter{
		Syscall: 2, Action: domain.ActErrno, ErrnoValue: 13,
		Conds: []domain.ArgCondition{{ArgIndex: 0, Op: domain.CondEQ, Value: 1}},
	})
	e.AddFilter(1, domain.SyscallFilter{Syscall: 2, Action: domain.ActAllow})

	assert.Equal(t, domain.ActErrno, e.Check(1, 2, []uint64{1}))
	assert.Equal(t, domain.ActAllow, e.Check(1, 2, []uint64{2}))
}

func TestFilterModeDefaultsToErrnoOnNoMatch(t *testing.T) {
	e := New()
	require.NoError(t, e.SetMode(1, domain.FilterFiltering))
	assert.Equal(t, domain.ActErrno, e.Check(1, 42, nil))
}
