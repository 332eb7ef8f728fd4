package domain

// ParamType is the type tag of a sysctl leaf (spec §3).
type ParamType int

const (
	ParamI32 ParamType = iota
	ParamU32
	ParamI64
	ParamU64
	ParamString
	ParamBool
	ParamNode
)

func (t ParamType) String() string {
	switch t {
	case ParamI32:
		return "i32"
	case ParamU32:
		return "u32"
	case ParamI64:
		return "i64"
	case ParamU64:
		return "u64"
	case ParamString:
		return "string"
	case ParamBool:
		return "bool"
	case ParamNode:
		return "node"
	default:
		return "unknown"
	}
}

// ParamFlags are the sysctl access/runtime bits (spec §4.2).
type ParamFlags uint32

const (
	ParamRO      ParamFlags = 0x1
	ParamRuntime ParamFlags = 0x2
	ParamSecure  ParamFlags = 0x4
)

// ParamHandler lets a leaf delegate read/write to custom code instead
// of a plain backing pointer (spec §4.2: "a leaf with a handler
// delegates both directions to that handler; the raw backing is
// untouched").
type ParamHandler interface {
	Read() (string, error)
	Write(val string) error
}

// ParamInfo is the read-only snapshot returned by get_info (spec §4.2).
type ParamInfo struct {
	Path        string
	Value       string
	Description string
	Type        ParamType
	Flags       ParamFlags
}
