// Package net implements the network device pipeline (spec §4.5.4): a
// MAC/MTU-bearing device with bounded RX/TX packet queues and a
// background service task that drains TX and polls for host-injected
// RX traffic.
package net

import (
	"sync"
	"time"

	"github.com/kos-sim/kos/domain"
	"github.com/kos-sim/kos/kerrors"
)

const (
	DefaultMTU  = 1500
	MinMTU      = 64
	MaxMTU      = 9000
	headerBytes = 14

	DefaultQueueDepth = 64
)

type packet struct {
	data []byte
}

// Injector is the implementation-defined RX injection surface (spec §9
// open question): something external supplies packets for the
// service task to enqueue as RX traffic.
type Injector interface {
	// Poll returns the next host-supplied packet, or nil if none is
	// currently available. Must not block.
	Poll() []byte
}

// Pipeline is one network device's queues, counters and service task.
type Pipeline struct {
	mac [6]byte
	mtu int

	mu       sync.Mutex
	readyC   *sync.Cond
	spaceC   *sync.Cond
	up       bool
	rxQueue  []packet
	txQueue  []packet
	depth    int

	statsMu sync.Mutex
	stats   domain.NetStats

	injector Injector

	stop chan struct{}
	done chan struct{}
}

// New builds a down pipeline with the given MAC and MTU (0 means
// DefaultMTU). Call Up to admit traffic and StartService to run the
// background task.
func New(mac [6]byte, mtu int, injector Injector) *Pipeline {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	p := &Pipeline{mac: mac, mtu: mtu, depth: DefaultQueueDepth, injector: injector}
	p.readyC = sync.NewCond(&p.mu)
	p.spaceC = sync.NewCond(&p.mu)
	return p
}

// Up transitions the device up (spec §4.5.4).
func (p *Pipeline) Up() {
	p.mu.Lock()
	p.up = true
	p.mu.Unlock()
}

// Down transitions the device down and drains both queues (spec
// §4.5.4).
func (p *Pipeline) Down() {
	p.mu.Lock()
	p.up = false
	p.rxQueue = nil
	p.txQueue = nil
	p.mu.Unlock()
	p.readyC.Broadcast()
	p.spaceC.Broadcast()
}

// Write enqueues data for transmission, blocking until space unless
// NONBLOCK is set (spec §4.5.4).
func (p *Pipeline) Write(data []byte, flags domain.Flags) (int, error) {
	if len(data) > p.mtu+headerBytes {
		return 0, kerrors.InvalidParamf("net: packet of %d bytes exceeds mtu+header %d", len(data), p.mtu+headerBytes)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.up {
		return 0, kerrors.IOf("net: device is down")
	}

	nonblock := flags&domain.FlagNonblock != 0
	for len(p.txQueue) >= p.depth {
		if !p.up {
			return 0, kerrors.IOf("net: device is down")
		}
		if nonblock {
			p.statsMu.Lock()
			p.stats.TxDropped++
			p.statsMu.Unlock()
			return 0, kerrors.Busyf("net: tx queue full")
		}
		p.spaceC.Wait()
	}

	cp := append([]byte(nil), data...)
	p.txQueue = append(p.txQueue, packet{data: cp})
	return len(data), nil
}

// Read returns the next RX packet, blocking until one exists unless
// NONBLOCK is set. Returns min(count, packet length) bytes (spec
// §4.5.4).
func (p *Pipeline) Read(count int, flags domain.Flags) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nonblock := flags&domain.FlagNonblock != 0
	for len(p.rxQueue) == 0 {
		if !p.up {
			return nil, kerrors.IOf("net: device is down")
		}
		if nonblock {
			return nil, kerrors.Busyf("net: rx queue empty")
		}
		p.readyC.Wait()
	}

	pkt := p.rxQueue[0]
	p.rxQueue = p.rxQueue[1:]

	n := count
	if n > len(pkt.data) {
		n = len(pkt.data)
	}
	return pkt.data[:n], nil
}

// enqueueRX is the lossy side of the pipeline (spec §9 design note):
// host-injected RX traffic never blocks its producer; on overflow the
// oldest queued packet is dropped and the drop counter rises.
func (p *Pipeline) enqueueRX(data []byte) {
	p.mu.Lock()
	if len(p.rxQueue) >= p.depth {
		p.rxQueue = p.rxQueue[1:]
		p.statsMu.Lock()
		p.stats.RxDropped++
		p.statsMu.Unlock()
	}
	p.rxQueue = append(p.rxQueue, packet{data: append([]byte(nil), data...)})
	p.mu.Unlock()
	p.readyC.Broadcast()

	p.statsMu.Lock()
	p.stats.RxPackets++
	p.stats.RxBytes += uint64(len(data))
	p.statsMu.Unlock()
}

func (p *Pipeline) drainOneTX() bool {
	p.mu.Lock()
	if len(p.txQueue) == 0 {
		p.mu.Unlock()
		return false
	}
	pkt := p.txQueue[0]
	p.txQueue = p.txQueue[1:]
	p.mu.Unlock()
	p.spaceC.Broadcast()

	p.statsMu.Lock()
	p.stats.TxPackets++
	p.stats.TxBytes += uint64(len(pkt.data))
	p.statsMu.Unlock()
	return true
}

// StartService launches the background service task: while up, it
// dequeues TX packets (updating counters) and polls the injector for
// RX traffic (spec §4.5.4).
func (p *Pipeline) StartService(pollInterval time.Duration) {
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				for p.drainOneTX() {
				}
				if p.injector != nil {
					if pkt := p.injector.Poll(); pkt != nil {
						p.enqueueRX(pkt)
					}
				}
			}
		}
	}()
}

func (p *Pipeline) StopService() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
	p.stop = nil
}

func (p *Pipeline) Stats() domain.NetStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Pipeline) QueueSizes() (rx, tx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rxQueue), len(p.txQueue)
}

// IOCtl implements the network ioctl surface (spec §6: NET_UP,
// NET_DOWN, NET_SET_ADDR).
func (p *Pipeline) IOCtl(cmd domain.Ioctl, arg interface{}) (interface{}, error) {
	switch cmd {
	case domain.IoctlNetUp:
		p.Up()
		return nil, nil
	case domain.IoctlNetDown:
		p.Down()
		return nil, nil
	case domain.IoctlNetSetAddr:
		mac, ok := arg.([6]byte)
		if !ok {
			return nil, kerrors.InvalidParamf("net: NET_SET_ADDR requires a [6]byte MAC")
		}
		p.mu.Lock()
		p.mac = mac
		p.mu.Unlock()
		return nil, nil
	case domain.IoctlGetInfo:
		return p.Stats(), nil
	default:
		return nil, kerrors.NotSupportedf("net: unsupported ioctl %#x", uint32(cmd))
	}
}
