package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kos-sim/kos/domain"
)

func fullSet() domain.CapSet {
	var all domain.CapMask
	for c := domain.Cap(0); c < 41; c++ {
		all = all.Set(c)
	}
	return domain.CapSet{Effective: all, Permitted: all, Inheritable: all, Bounding: all, Ambient: 0}
}

func TestRaiseRequiresPermitted(t *testing.T) {
	s := New()
	s.Grant(1, domain.CapSet{Permitted: domain.CapMask(0).Set(CAP_NET_ADMIN)})

	require.NoError(t, s.Raise(1, CAP_NET_ADMIN))
	assert.True(t, s.Capable(1, CAP_NET_ADMIN))

	err := s.Raise(1, CAP_SYS_ADMIN)
	require.Error(t, err)
}

func TestDropClearsAllFiveMasks(t *testing.T) {
	s := New()
	s.Grant(1, fullSet())
	s.Drop(1, CAP_SYS_ADMIN)

	set := s.Get(1)
	assert.False(t, set.Effective.Has(CAP_SYS_ADMIN))
	assert.False(t, set.Permitted.Has(CAP_SYS_ADMIN))
	assert.False(t, set.Inheritable.Has(CAP_SYS_ADMIN))
	assert.False(t, set.Bounding.Has(CAP_SYS_ADMIN))
	assert.False(t, set.Ambient.Has(CAP_SYS_ADMIN))
}

func TestSetRejectsPermittedEscalation(t *testing.T) {
	s := New()
	s.Grant(1, domain.CapSet{Permitted: domain.CapMask(0).Set(CAP_NET_ADMIN), Bounding: domain.CapMask(0).Set(CAP_NET_ADMIN)})

	err := s.Set(1, domain.CapSet{Permitted: domain.CapMask(0).Set(CAP_NET_ADMIN).Set(CAP_SYS_ADMIN)})
	require.Error(t, err)
}

func TestSetAcceptsMonotonicNarrowing(t *testing.T) {
	s := New()
	base := domain.CapMask(0).Set(CAP_NET_ADMIN).Set(CAP_SYS_ADMIN)
	s.Grant(1, domain.CapSet{Permitted: base, Bounding: base})

	narrowed := domain.CapMask(0).Set(CAP_NET_ADMIN)
	err := s.Set(1, domain.CapSet{Permitted: narrowed, Effective: narrowed, Bounding: base})
	require.NoError(t, err)

	set := s.Get(1)
	assert.True(t, set.Permitted.Has(CAP_NET_ADMIN))
	assert.False(t, set.Permitted.Has(CAP_SYS_ADMIN))
}

// TestCapabilityInvariantHoldsAfterTransitions mirrors the testable
// property: effective ⊆ permitted ⊆ {capabilities ever granted} holds
// after every accepted set.
func TestCapabilityInvariantHoldsAfterTransitions(t *testing.T) {
	s := New()
	everGranted := domain.CapMask(0).Set(CAP_NET_ADMIN).Set(CAP_SYS_ADMIN).Set(CAP_MKNOD)
	s.Grant(1, domain.CapSet{Permitted: everGranted, Bounding: everGranted})

	steps := []domain.CapMask{
		domain.CapMask(0).Set(CAP_NET_ADMIN).Set(CAP_SYS_ADMIN),
		domain.CapMask(0).Set(CAP_NET_ADMIN),
	}
	for _, permitted := range steps {
		require.NoError(t, s.Set(1, domain.CapSet{Permitted: permitted, Effective: permitted, Bounding: everGranted}))
		set := s.Get(1)
		assert.True(t, set.Effective.Subset(set.Permitted))
		assert.True(t, set.Permitted.Subset(everGranted))
	}
}

func TestExecTransition(t *testing.T) {
	s := New()
	inheritable := domain.CapMask(0).Set(CAP_NET_ADMIN)
	bounding := domain.CapMask(0).Set(CAP_NET_ADMIN).Set(CAP_SYS_ADMIN)
	ambient := domain.CapMask(0).Set(CAP_NET_ADMIN)
	s.Grant(1, domain.CapSet{Inheritable: inheritable, Bounding: bounding, Ambient: ambient})

	s.ExecTransition(1, FileCaps{HasCaps: false})

	set := s.Get(1)
	assert.Equal(t, inheritable&bounding, set.Permitted)
	assert.Equal(t, ambient, set.Effective)
	assert.Equal(t, ambient, set.Ambient)
}
