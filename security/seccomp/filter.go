// Package seccomp implements the per-subject syscall filter engine
// (spec §4.7.3): a strictly-increasing mode lattice (disabled < strict
// < filter) guarding an ordered list of argument-predicate filters.
package seccomp

import (
	"sync"

	"github.com/kos-sim/kos/domain"
	"github.com/kos-sim/kos/kerrors"
)

// strictSafeSyscalls is the fixed safe set allowed in strict mode; a
// minimal read/write/exit surface, the conventional seccomp "strict"
// baseline.
var strictSafeSyscalls = map[int]bool{
	0:  true, // read
	1:  true, // write
	60: true, // exit
	231: true, // exit_group
}

type subjectState struct {
	mode    domain.FilterMode
	filters []domain.SyscallFilter
}

// Engine owns every subject's mode and filter chain.
type Engine struct {
	mu       sync.RWMutex
	subjects map[domain.SubjectID]*subjectState
}

func New() *Engine {
	return &Engine{subjects: make(map[domain.SubjectID]*subjectState)}
}

func (e *Engine) stateFor(id domain.SubjectID) *subjectState {
	s, ok := e.subjects[id]
	if !ok {
		s = &subjectState{mode: domain.FilterDisabled}
		e.subjects[id] = s
	}
	return s
}

// SetMode enforces the mode lattice is strictly increasing (spec §3):
// a subject may only move disabled→strict→filter, never backwards.
func (e *Engine) SetMode(id domain.SubjectID, mode domain.FilterMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stateFor(id)
	if mode < s.mode {
		return kerrors.Permissionf("seccomp: mode may only increase (current=%d requested=%d)", s.mode, mode)
	}
	s.mode = mode
	return nil
}

// AddFilter appends f to the subject's ordered filter chain. Filters
// only take effect once the subject is in filter mode.
func (e *Engine) AddFilter(id domain.SubjectID, f domain.SyscallFilter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateFor(id)
	s.filters = append(s.filters, f)
}

// Check implements check(subject, syscall, args) per spec §4.7.3.
func (e *Engine) Check(id domain.SubjectID, syscall int, args []uint64) domain.FilterAction {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.subjects[id]
	if !ok {
		return domain.ActAllow
	}

	switch s.mode {
	case domain.FilterDisabled:
		return domain.ActAllow
	case domain.FilterStrict:
		if strictSafeSyscalls[syscall] {
			return domain.ActAllow
		}
		return domain.ActKillProcess
	case domain.FilterFiltering:
		for _, f := range s.filters {
			if f.Syscall != syscall {
				continue
			}
			if condsHold(f.Conds, args) {
				return f.Action
			}
		}
		return domain.ActErrno
	default:
		return domain.ActKillProcess
	}
}

func condsHold(conds []domain.ArgCondition, args []uint64) bool {
	for _, c := range conds {
		if c.ArgIndex < 0 || c.ArgIndex >= len(args) {
			return false
		}
		v := args[c.ArgIndex]
		switch c.Op {
		case domain.CondEQ:
			if v != c.Value {
				return false
			}
		case domain.CondGT:
			if !(v > c.Value) {
				return false
			}
		case domain.CondGE:
			if !(v >= c.Value) {
				return false
			}
		case domain.CondLT:
			if !(v < c.Value) {
				return false
			}
		case domain.CondLE:
			if !(v <= c.Value) {
				return false
			}
		case domain.CondAND:
			if v&c.Value == 0 {
				return false
			}
		}
	}
	return true
}
