package domain

// SubjectID identifies the entity capabilities, policy contexts and
// syscall filters are keyed by. Per design note §9 ("model as hash
// maps, not fixed arrays — the source's bounded table is a
// performance artifact, not a contract"), subpackages key their state
// by this id in a map, not a fixed-size array.
type SubjectID uint32

// Cap is one POSIX-style capability bit index (0..63), following the
// numbering convention of Linux's include/uapi/linux/capability.h as
// reproduced by the capability libraries in the retrieval pack.
type Cap uint

// CapMask is a 64-bit capability bitmask; bit i corresponds to Cap(i).
type CapMask uint64

func (m CapMask) Has(c Cap) bool { return m&(1<<uint(c)) != 0 }
func (m CapMask) Set(c Cap) CapMask {
	return m | (1 << uint(c))
}
func (m CapMask) Clear(c Cap) CapMask {
	return m &^ (1 << uint(c))
}

// Subset reports whether m is a subset of other (m ⊆ other).
func (m CapMask) Subset(other CapMask) bool {
	return m&^other == 0
}

// CapSet is the five-mask capability record from spec §3/§4.7.1.
type CapSet struct {
	Effective   CapMask
	Permitted   CapMask
	Inheritable CapMask
	Bounding    CapMask
	Ambient     CapMask
}

// PolicyType identifies a source/target type or object class in the
// policy engine; "*" is the wildcard recognized by Check (spec §4.7.2).
type PolicyType string

const Wildcard PolicyType = "*"

// Decision is the outcome of a policy or syscall-filter check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// PolicyRule is one row of the policy engine's rule table (spec §3).
type PolicyRule struct {
	SourceType PolicyType
	TargetType PolicyType
	Class      PolicyType
	Perms      map[string]bool
	Decision   Decision
}

// AVCEntry is one cached access-vector decision (spec §3).
type AVCEntry struct {
	SourceID  SubjectID
	TargetID  SubjectID
	ClassID   PolicyType
	Allowed   map[string]bool
	Denied    map[string]bool
	InsertedAtNanos int64
}

// FilterAction enumerates syscall-filter actions (spec §4.7.3).
type FilterAction int

const (
	ActAllow FilterAction = iota
	ActErrno
	ActTrace
	ActLog
	ActKillThread
	ActKillProcess
)

// CondOp is a syscall-filter argument predicate operator.
type CondOp int

const (
	CondEQ CondOp = iota
	CondGT
	CondGE
	CondLT
	CondLE
	CondAND
)

// ArgCondition is one (arg-index, op, value) predicate.
type ArgCondition struct {
	ArgIndex int
	Op       CondOp
	Value    uint64
}

// SyscallFilter is one rule in a subject's filter chain (spec §3).
type SyscallFilter struct {
	Syscall    int
	Action     FilterAction
	ErrnoValue int
	Conds      []ArgCondition
}

// FilterMode is the subject's filter-engine mode lattice (spec §3:
// "disabled < strict < filter").
type FilterMode int

const (
	FilterDisabled FilterMode = iota
	FilterStrict
	FilterFiltering
)

// AuditEvent is a security-relevant observation (spec §3).
type AuditEvent struct {
	TimestampNanos int64
	Seq            uint64
	Subject        SubjectID
	EUID           uint32
	RUID           uint32
	GID            uint32
	Type           string
	Message        string
	Comm           string
	Exe            string

	// IntegrityTag is the hash-chained tag audit.Ring stamps on every
	// event (hash of the previous event's tag plus this event's
	// rendered line), so a tampered or reordered entry is detectable
	// by audit.Verify.
	IntegrityTag string
}

// AuditRule matches audit events for selective logging (spec §4.7.4).
type AuditRule struct {
	Type      string // "" or "*" = wildcard
	Subject   *SubjectID
	Substring string
	Enabled   bool
}
