package domain

// The char ring buffer, the block page cache, the network queue pair
// and the tty line discipline diverge too much in shape to share one
// interface (block addresses by offset, net by whole packets, tty by
// single fed bytes) — device.Registry's integration surface is each
// Device's Ops vtable instead, built by the device package's factory
// functions, one per class, which adapt a class pipeline's native
// methods to the IORequest/Ioctl shape Ops expects.

// CharStats mirrors the counters the char pipeline exposes via
// GET_INFO.
type CharStats struct {
	CharsIn     uint64
	CharsOut    uint64
	WriteStalls uint64
	EOF         bool
}

// BlockStats mirrors §4.5.3's "per-device read/write counters and
// byte totals".
type BlockStats struct {
	ReadOps     uint64
	WriteOps    uint64
	BytesRead   uint64
	BytesWritten uint64
	CacheHits   uint64
	CacheMisses uint64
	DirtyCount  int
}

// NetStats mirrors the counters used in end-to-end scenario 3.
type NetStats struct {
	RxPackets uint64
	RxBytes   uint64
	TxPackets uint64
	TxBytes   uint64
	RxDropped uint64
	TxDropped uint64
}

// TTYStats mirrors the TTY GET_INFO snapshot (spec §4.5.5).
type TTYStats struct {
	CharsIn       uint64
	CharsOut      uint64
	LinesReady    uint64
	SignalsSent   uint64
	OverflowDrops uint64
}
