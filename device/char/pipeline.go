// Package char implements the character device pipeline (spec
// §4.5.2): a bounded byte ring with reader/writer condition
// variables.
package char

import (
	"sync"
	"time"

	"github.com/kos-sim/kos/domain"
	"github.com/kos-sim/kos/kerrors"
)

const DefaultBufferSize = 4096

// Pipeline is one char device's ring buffer and its readers/writers.
type Pipeline struct {
	mu        sync.Mutex
	readable  *sync.Cond
	writable  *sync.Cond

	buf        []byte
	head, tail int
	dataSize   int
	eof        bool

	stats domain.CharStats
}

// New allocates a pipeline with the given buffer capacity (0 means
// DefaultBufferSize).
func New(capacity int) *Pipeline {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	p := &Pipeline{buf: make([]byte, capacity)}
	p.readable = sync.NewCond(&p.mu)
	p.writable = sync.NewCond(&p.mu)
	return p
}

func (p *Pipeline) free() int { return len(p.buf) - p.dataSize }

// Write appends data, blocking while there isn't room unless
// NONBLOCK is set, in which case it writes as much as fits or returns
// kerrors.Busyf if nothing fits (spec §4.5.2).
func (p *Pipeline) Write(data []byte, flags domain.Flags, deadline *domain.DeadlineMS) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.eof {
		return 0, kerrors.IOf("char: write past EOF")
	}

	nonblock := flags&domain.FlagNonblock != 0

	if nonblock {
		n := p.free()
		if n == 0 {
			return 0, kerrors.Busyf("char: buffer full")
		}
		if n > len(data) {
			n = len(data)
		}
		p.appendLocked(data[:n])
		p.readable.Broadcast()
		return n, nil
	}

	deadlineAt, hasDeadline := absDeadline(deadline)
	for p.free() < len(data) {
		if hasDeadline && !p.waitUntil(p.writable, deadlineAt) {
			return 0, kerrors.Timeoutf("char: write timed out")
		} else if !hasDeadline {
			p.writable.Wait()
		}
	}

	p.appendLocked(data)
	p.readable.Broadcast()
	return len(data), nil
}

func (p *Pipeline) appendLocked(data []byte) {
	for _, b := range data {
		p.buf[p.tail] = b
		p.tail = (p.tail + 1) % len(p.buf)
		p.dataSize++
	}
	p.stats.CharsIn += uint64(len(data))
}

// Read returns up to count bytes currently available, blocking while
// none are available and not at EOF unless NONBLOCK is set. Returns 0
// at EOF (spec §4.5.2).
func (p *Pipeline) Read(count int, flags domain.Flags, deadline *domain.DeadlineMS) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nonblock := flags&domain.FlagNonblock != 0

	if p.dataSize == 0 {
		if p.eof {
			return nil, nil
		}
		if nonblock {
			return nil, kerrors.Busyf("char: no data available")
		}
		deadlineAt, hasDeadline := absDeadline(deadline)
		for p.dataSize == 0 && !p.eof {
			if hasDeadline {
				if !p.waitUntil(p.readable, deadlineAt) {
					return nil, kerrors.Timeoutf("char: read timed out")
				}
			} else {
				p.readable.Wait()
			}
		}
		if p.dataSize == 0 && p.eof {
			return nil, nil
		}
	}

	n := count
	if n > p.dataSize {
		n = p.dataSize
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = p.buf[p.head]
		p.head = (p.head + 1) % len(p.buf)
		p.dataSize--
	}
	p.stats.CharsOut += uint64(n)
	p.writable.Broadcast()
	return out, nil
}

// Flush sets EOF and wakes every blocked reader (spec §4.5.2).
func (p *Pipeline) Flush() error {
	p.mu.Lock()
	p.eof = true
	p.stats.EOF = true
	p.mu.Unlock()
	p.readable.Broadcast()
	return nil
}

// Reset clears both ring positions and data (the RESET ioctl).
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.head, p.tail, p.dataSize = 0, 0, 0
	p.eof = false
	p.stats.EOF = false
	p.writable.Broadcast()
	return nil
}

func (p *Pipeline) Stats() domain.CharStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// IOCtl implements the char-device subset of spec §6's ioctl space.
func (p *Pipeline) IOCtl(cmd domain.Ioctl, arg interface{}) (interface{}, error) {
	switch cmd {
	case domain.IoctlReset:
		return nil, p.Reset()
	case domain.IoctlFlush:
		return nil, p.Flush()
	case domain.IoctlGetInfo:
		return p.Stats(), nil
	default:
		return nil, kerrors.NotSupportedf("char: unsupported ioctl %#x", uint32(cmd))
	}
}

func absDeadline(d *domain.DeadlineMS) (time.Time, bool) {
	if d == nil {
		return time.Time{}, false
	}
	return time.Now().Add(time.Duration(d.Millis) * time.Millisecond), true
}

// waitUntil is sync.Cond.Wait with a deadline: it wakes a helper
// goroutine to Broadcast at the deadline so Wait returns, then checks
// whether the deadline or a real signal fired first. Mirrors the
// condition-variable-plus-timeout idiom spec §5 requires for bounded
// waits.
func (p *Pipeline) waitUntil(cond *sync.Cond, deadline time.Time) bool {
	timer := time.AfterFunc(time.Until(deadline), func() {
		p.mu.Lock()
		cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()

	cond.Wait()
	return time.Now().Before(deadline)
}
