// Package capability implements the per-subject capability subsystem
// (spec §4.7.1): five 64-bit masks per subject id, with the transition
// rules that keep effective ⊆ permitted ⊆ {capabilities ever granted}.
//
// The bit numbering follows Linux's include/uapi/linux/capability.h,
// the same numbering the capability libraries in the retrieval pack
// reproduce.
package capability

import (
	"sync"

	"github.com/kos-sim/kos/domain"
	"github.com/kos-sim/kos/kerrors"
)

const (
	CAP_CHOWN            domain.Cap = 0
	CAP_DAC_OVERRIDE     domain.Cap = 1
	CAP_DAC_READ_SEARCH  domain.Cap = 2
	CAP_FOWNER           domain.Cap = 3
	CAP_FSETID           domain.Cap = 4
	CAP_KILL             domain.Cap = 5
	CAP_SETGID           domain.Cap = 6
	CAP_SETUID           domain.Cap = 7
	CAP_SETPCAP          domain.Cap = 8
	CAP_NET_BIND_SERVICE domain.Cap = 10
	CAP_NET_ADMIN        domain.Cap = 12
	CAP_NET_RAW          domain.Cap = 13
	CAP_SYS_CHROOT       domain.Cap = 18
	CAP_SYS_PTRACE       domain.Cap = 19
	CAP_SYS_ADMIN        domain.Cap = 21
	CAP_SYS_BOOT         domain.Cap = 22
	CAP_SYS_TIME         domain.Cap = 25
	CAP_MKNOD            domain.Cap = 27
	CAP_AUDIT_WRITE      domain.Cap = 29
	CAP_SETFCAP          domain.Cap = 31
)

// Store holds every subject's capability set, keyed by id per design
// note §9 ("per-subject data keyed by external id: model as hash maps,
// not fixed arrays").
type Store struct {
	mu   sync.Mutex
	sets map[domain.SubjectID]domain.CapSet
}

func New() *Store {
	return &Store{sets: make(map[domain.SubjectID]domain.CapSet)}
}

// Grant initializes a subject's capability set directly, bypassing the
// transition checks in Set; used for bootstrapping the initial
// subject (init_t-equivalent) or test fixtures.
func (s *Store) Grant(id domain.SubjectID, set domain.CapSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[id] = set
}

func (s *Store) Get(id domain.SubjectID) domain.CapSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[id]
}

// Set validates and installs new as the subject's capability set (spec
// §4.7.1): new.permitted ⊆ current.permitted; new.effective ⊆
// new.permitted; new.inheritable ⊆ (new.permitted ∩ current.bounding);
// new.bounding ⊆ current.bounding.
func (s *Store) Set(id domain.SubjectID, newSet domain.CapSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.sets[id]

	if !newSet.Permitted.Subset(cur.Permitted) {
		return kerrors.Permissionf("capability: new permitted set exceeds current permitted set")
	}
	if !newSet.Effective.Subset(newSet.Permitted) {
		return kerrors.Permissionf("capability: new effective set exceeds new permitted set")
	}
	if !newSet.Inheritable.Subset(newSet.Permitted & cur.Bounding) {
		return kerrors.Permissionf("capability: new inheritable set exceeds permitted ∩ bounding")
	}
	if !newSet.Bounding.Subset(cur.Bounding) {
		return kerrors.Permissionf("capability: new bounding set exceeds current bounding set")
	}

	s.sets[id] = newSet
	return nil
}

// Drop clears cap across all five masks of a subject's set.
func (s *Store) Drop(id domain.SubjectID, cap domain.Cap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[id]
	set.Effective = set.Effective.Clear(cap)
	set.Permitted = set.Permitted.Clear(cap)
	set.Inheritable = set.Inheritable.Clear(cap)
	set.Bounding = set.Bounding.Clear(cap)
	set.Ambient = set.Ambient.Clear(cap)
	s.sets[id] = set
}

// Raise requires cap ∈ permitted and sets only the effective bit (spec
// §4.7.1).
func (s *Store) Raise(id domain.SubjectID, cap domain.Cap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[id]
	if !set.Permitted.Has(cap) {
		return kerrors.Permissionf("capability: cap %d not in permitted set", cap)
	}
	set.Effective = set.Effective.Set(cap)
	s.sets[id] = set
	return nil
}

// FileCaps describes the capability-granting attributes an executed
// image may carry (spec §4.7.1's exec_transition).
type FileCaps struct {
	HasCaps bool
}

// ExecTransition recomputes a subject's set after exec (spec §4.7.1):
// permitted′ = inheritable ∩ bounding, effective′ = ambient,
// inheritable′ and bounding′ carry over, ambient′ = ambient if the
// image carries no file caps else 0.
func (s *Store) ExecTransition(id domain.SubjectID, img FileCaps) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.sets[id]

	next := domain.CapSet{
		Permitted:   cur.Inheritable & cur.Bounding,
		Inheritable: cur.Inheritable,
		Bounding:    cur.Bounding,
	}
	next.Effective = cur.Ambient
	if !img.HasCaps {
		next.Ambient = cur.Ambient
	}
	s.sets[id] = next
}

// Capable reports whether cap is currently effective for id (spec
// §4.7.1).
func (s *Store) Capable(id domain.SubjectID, cap domain.Cap) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[id].Effective.Has(cap)
}
