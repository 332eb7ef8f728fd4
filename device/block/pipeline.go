// Package block implements the block device pipeline (spec §4.5.3): a
// backing store decomposed into fixed-size blocks, fronted by a small
// bounded write-through cache guarded by its own lock, with a separate
// shared/exclusive lock over logical I/O.
package block

import (
	"sync"

	"github.com/kos-sim/kos/domain"
	"github.com/kos-sim/kos/kerrors"
)

const DefaultCacheSlots = 16

type slot struct {
	block int64
	data  []byte
	valid bool
	dirty bool
}

// Pipeline is one block device's backing store plus cache.
type Pipeline struct {
	blockSize   int64
	totalBlocks int64

	ioLock sync.RWMutex

	cacheMu sync.Mutex
	backing []byte
	slots   []*slot
	byBlock map[int64]*slot

	stats domain.BlockStats
}

// New allocates a backing store of totalBlocks*blockSize bytes and a
// cache of cacheSlots entries (0 means DefaultCacheSlots).
func New(totalBlocks, blockSize int64, cacheSlots int) *Pipeline {
	if cacheSlots <= 0 {
		cacheSlots = DefaultCacheSlots
	}
	return &Pipeline{
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
		backing:     make([]byte, totalBlocks*blockSize),
		slots:       make([]*slot, 0, cacheSlots),
		byBlock:     make(map[int64]*slot),
	}
}

func (p *Pipeline) totalSize() int64 { return p.totalBlocks * p.blockSize }

func (p *Pipeline) cap() int { return cap(p.slots) }

// loadLocked returns the cache slot for block, loading it from backing
// (evicting the least-recently-used slot, flushing it first if dirty)
// if necessary. p.slots is kept in use order, most recent last.
// Must be called with cacheMu held.
func (p *Pipeline) loadLocked(block int64) *slot {
	if s, ok := p.byBlock[block]; ok {
		for i, cur := range p.slots {
			if cur == s {
				copy(p.slots[i:], p.slots[i+1:])
				p.slots[len(p.slots)-1] = s
				break
			}
		}
		return s
	}

	var s *slot
	if len(p.slots) < p.cap() {
		s = &slot{}
		p.slots = append(p.slots, s)
	} else {
		s = p.slots[0]
		copy(p.slots, p.slots[1:])
		p.slots[len(p.slots)-1] = s
		if s.valid {
			if s.dirty {
				p.flushSlotLocked(s)
			}
			delete(p.byBlock, s.block)
		}
	}

	s.block = block
	s.data = make([]byte, p.blockSize)
	off := block * p.blockSize
	copy(s.data, p.backing[off:off+p.blockSize])
	s.valid = true
	s.dirty = false
	p.byBlock[block] = s
	return s
}

func (p *Pipeline) flushSlotLocked(s *slot) {
	if !s.valid || !s.dirty {
		return
	}
	off := s.block * p.blockSize
	copy(p.backing[off:off+p.blockSize], s.data)
	s.dirty = false
	p.stats.DirtyCount--
}

// Read implements spec §4.5.3's read(off, count): shared I/O lock,
// block-by-block cache-or-load, short reads at EOF.
func (p *Pipeline) Read(off int64, count int) ([]byte, error) {
	p.ioLock.RLock()
	defer p.ioLock.RUnlock()

	if off >= p.totalSize() {
		return nil, nil
	}
	if off+int64(count) > p.totalSize() {
		count = int(p.totalSize() - off)
	}

	out := make([]byte, 0, count)
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	remaining := int64(count)
	cur := off
	for remaining > 0 {
		block := cur / p.blockSize
		blockOff := cur % p.blockSize
		n := p.blockSize - blockOff
		if n > remaining {
			n = remaining
		}

		s, hit := p.byBlock[block]
		if hit {
			p.stats.CacheHits++
		} else {
			p.stats.CacheMisses++
		}
		s = p.loadLocked(block)
		out = append(out, s.data[blockOff:blockOff+n]...)

		cur += n
		remaining -= n
	}

	p.stats.ReadOps++
	p.stats.BytesRead += uint64(len(out))
	return out, nil
}

// Write implements spec §4.5.3's write(off, count): exclusive I/O
// lock, rejects writes past total_size, read-modify-write-through per
// partial block.
func (p *Pipeline) Write(off int64, data []byte) (int, error) {
	p.ioLock.Lock()
	defer p.ioLock.Unlock()

	if off+int64(len(data)) > p.totalSize() {
		return 0, kerrors.InvalidParamf("block: write [%d,%d) past total size %d", off, off+int64(len(data)), p.totalSize())
	}

	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	written := 0
	cur := off
	remaining := data
	for len(remaining) > 0 {
		block := cur / p.blockSize
		blockOff := cur % p.blockSize
		n := p.blockSize - blockOff
		if n > int64(len(remaining)) {
			n = int64(len(remaining))
		}

		s := p.loadLocked(block)
		copy(s.data[blockOff:blockOff+n], remaining[:n])

		if n == p.blockSize {
			off := block * p.blockSize
			copy(p.backing[off:off+p.blockSize], s.data)
			if s.dirty {
				s.dirty = false
				p.stats.DirtyCount--
			}
		} else {
			if !s.dirty {
				s.dirty = true
				p.stats.DirtyCount++
			}
			p.flushSlotLocked(s)
			s.dirty = false
		}

		cur += n
		remaining = remaining[n:]
		written += int(n)
	}

	p.stats.WriteOps++
	p.stats.BytesWritten += uint64(written)
	return written, nil
}

// Fsync flushes every dirty cache entry to backing storage.
func (p *Pipeline) Fsync() error {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	for _, s := range p.slots {
		p.flushSlotLocked(s)
	}
	return nil
}

func (p *Pipeline) Stats() domain.BlockStats {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	return p.stats
}

// IOCtl implements BLKGETSIZE/BLKFLSBUF/GET_INFO (spec §4.5.3).
func (p *Pipeline) IOCtl(cmd domain.Ioctl, arg interface{}) (interface{}, error) {
	switch cmd {
	case domain.IoctlBlkGetSize:
		return p.totalBlocks, nil
	case domain.IoctlBlkFlsBuf:
		return nil, p.Fsync()
	case domain.IoctlGetInfo:
		return p.Stats(), nil
	default:
		return nil, kerrors.NotSupportedf("block: unsupported ioctl %#x", uint32(cmd))
	}
}
