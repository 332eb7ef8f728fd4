// Package sysctl implements the hierarchical runtime-configurable
// parameter tree (spec §4.2): a dotted-path namespace of typed leaves
// backed either by a raw pointer or a handler, with bounds checking
// and RO/RUNTIME access flags.
package sysctl

import (
	"strconv"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/sirupsen/logrus"

	"github.com/kos-sim/kos/domain"
	"github.com/kos-sim/kos/kerrors"
)

// entry is the tree's internal representation of one registered leaf
// or node.
type entry struct {
	path        string
	description string
	typ         domain.ParamType
	flags       domain.ParamFlags
	handler     domain.ParamHandler

	// backing storage, used when handler == nil.
	mu      sync.Mutex
	i64     int64
	u64     uint64
	str     string
	boolean bool

	hasBounds bool
	min, max  int64
}

// Tree is the parameter tree. A single reader/writer lock guards the
// path index (registration takes it exclusively, lookups share it);
// each leaf's value has its own mutex, so writes to different leaves
// do not serialize with one another (spec §4.2 concurrency).
//
// Grounded on the teacher's handler radix-tree registration pattern
// (path -> record, longest-prefix lookup, ordered walk for listing).
type Tree struct {
	mu   sync.RWMutex
	tree *iradix.Tree
}

// New returns an empty parameter tree.
func New() *Tree {
	return &Tree{tree: iradix.New()}
}

// Register adds a leaf or node at path. backing/min/max/handler are
// mutually exclusive in the sense that a handler, when non-nil, takes
// over both read and write for the leaf (spec §4.2: "a leaf with a
// handler delegates both directions to that handler").
func (t *Tree) Register(path, description string, typ domain.ParamType, flags domain.ParamFlags, handler domain.ParamHandler, min, max int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if path == "" {
		return kerrors.InvalidParamf("sysctl: empty path")
	}
	if _, ok := t.tree.Get([]byte(path)); ok {
		return kerrors.InvalidParamf("sysctl: path %q already registered", path)
	}

	e := &entry{
		path:        path,
		description: description,
		typ:         typ,
		flags:       flags,
		handler:     handler,
		hasBounds:   min != 0 || max != 0,
		min:         min,
		max:         max,
	}

	tr, _, _ := t.tree.Insert([]byte(path), e)
	t.tree = tr

	logrus.Debugf("sysctl: registered %s (%s)", path, typ)
	return nil
}

func (t *Tree) lookup(path string) (*entry, bool) {
	v, ok := t.tree.Get([]byte(path))
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// Read formats the leaf's current value into buf and returns the
// number of bytes written, truncating long values.
func (t *Tree) Read(path string, buf []byte) (int, error) {
	t.mu.RLock()
	e, ok := t.lookup(path)
	t.mu.RUnlock()
	if !ok {
		return 0, kerrors.NotFoundf("sysctl: no such path %q", path)
	}

	s, err := t.formatValue(e)
	if err != nil {
		return 0, err
	}
	n := copy(buf, s)
	return n, nil
}

func (t *Tree) formatValue(e *entry) (string, error) {
	if e.handler != nil {
		return e.handler.Read()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.typ {
	case domain.ParamI32, domain.ParamI64:
		return strconv.FormatInt(e.i64, 10), nil
	case domain.ParamU32, domain.ParamU64:
		return strconv.FormatUint(e.u64, 10), nil
	case domain.ParamBool:
		return strconv.FormatBool(e.boolean), nil
	case domain.ParamString:
		return e.str, nil
	default:
		return "", kerrors.NotSupportedf("sysctl: node %q has no value", e.path)
	}
}

// Write applies buf (parsed per the leaf's type) to path, enforcing
// the RO/RUNTIME flags and numeric bounds from spec §4.2.
func (t *Tree) Write(path string, buf []byte) error {
	t.mu.Lock()
	e, ok := t.lookup(path)
	t.mu.Unlock()
	if !ok {
		return kerrors.NotFoundf("sysctl: no such path %q", path)
	}

	if e.flags&domain.ParamRO != 0 {
		return kerrors.Permissionf("sysctl: %q is read-only", path)
	}
	if e.flags&domain.ParamRuntime == 0 {
		return kerrors.Permissionf("sysctl: %q is not runtime-writable", path)
	}

	val := string(buf)

	if e.handler != nil {
		return e.handler.Write(val)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.typ {
	case domain.ParamI32, domain.ParamI64:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return kerrors.InvalidParamf("sysctl: %q: invalid integer %q", path, val)
		}
		if e.hasBounds && (n < e.min || n > e.max) {
			return kerrors.InvalidParamf("sysctl: %q: %d out of range [%d,%d]", path, n, e.min, e.max)
		}
		e.i64 = n

	case domain.ParamU32, domain.ParamU64:
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return kerrors.InvalidParamf("sysctl: %q: invalid unsigned integer %q", path, val)
		}
		if e.hasBounds && (int64(n) < e.min || int64(n) > e.max) {
			return kerrors.InvalidParamf("sysctl: %q: %d out of range [%d,%d]", path, n, e.min, e.max)
		}
		e.u64 = n

	case domain.ParamBool:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return kerrors.InvalidParamf("sysctl: %q: invalid bool %q", path, val)
		}
		e.boolean = b

	case domain.ParamString:
		// Truncate to a sane allocated-buffer size with guaranteed NUL
		// termination semantics (spec §4.2); Go strings have no NUL, so
		// truncation alone satisfies the contract.
		const maxString = 256
		if len(val) > maxString {
			val = val[:maxString]
		}
		e.str = val

	default:
		return kerrors.NotSupportedf("sysctl: %q is a node, not a leaf", path)
	}

	return nil
}

// SetString/GetString are convenience wrappers that parse/format
// against the leaf's type using plain Go strings instead of []byte.
func (t *Tree) SetString(path, val string) error {
	return t.Write(path, []byte(val))
}

func (t *Tree) GetString(path string) (string, error) {
	buf := make([]byte, 512)
	n, err := t.Read(path, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// List walks every registered path with the given prefix in
// lexicographic order, invoking visitor for each.
func (t *Tree) List(prefix string, visitor func(path string)) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	t.tree.Root().WalkPrefix([]byte(prefix), func(key []byte, val interface{}) bool {
		visitor(string(key))
		return false
	})
}

// GetInfo returns the leaf's descriptive snapshot (spec §4.2).
func (t *Tree) GetInfo(path string) (domain.ParamInfo, error) {
	t.mu.RLock()
	e, ok := t.lookup(path)
	t.mu.RUnlock()
	if !ok {
		return domain.ParamInfo{}, kerrors.NotFoundf("sysctl: no such path %q", path)
	}

	val, err := t.formatValue(e)
	if err != nil {
		val = ""
	}

	return domain.ParamInfo{
		Path:        e.path,
		Value:       val,
		Description: e.description,
		Type:        e.typ,
		Flags:       e.flags,
	}, nil
}

// Snapshot captures every leaf's current string value (SPEC_FULL §5,
// 4.2a). Its path -> value map is the format kosd's --sysctl-seed file
// uses, which Restore writes back at startup.
func (t *Tree) Snapshot() map[string]string {
	out := make(map[string]string)
	t.List("", func(path string) {
		if v, err := t.GetString(path); err == nil {
			out[path] = v
		}
	})
	return out
}

// Restore writes back a snapshot produced by Snapshot, ignoring
// leaves that no longer exist or reject the write (best-effort, as
// befits a diagnostics/test convenience rather than a core operation).
func (t *Tree) Restore(snap map[string]string) {
	for path, val := range snap {
		if err := t.SetString(path, val); err != nil {
			logrus.Debugf("sysctl: restore skipped %s: %v", path, err)
		}
	}
}
