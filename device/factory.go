package device

import (
	"github.com/kos-sim/kos/device/block"
	"github.com/kos-sim/kos/device/char"
	"github.com/kos-sim/kos/device/net"
	"github.com/kos-sim/kos/device/tty"
	"github.com/kos-sim/kos/domain"
)

// NewCharDevice builds a char device (spec §4.5.2) backed by a bounded
// byte ring of the given capacity, fills in its Ops vtable so the
// registered Device's I/O reaches the pipeline, and registers it.
// The concrete pipeline is also returned for callers (tests, drivers)
// that need it directly; it is the same value stored in Device.Sub.
func (r *Registry) NewCharDevice(name string, capacity int) (*domain.Device, *char.Pipeline, error) {
	p := char.New(capacity)
	d := &domain.Device{
		Name:  name,
		Class: domain.ClassChar,
		Sub:   p,
		Ops: domain.Ops{
			Write: func(req *domain.IORequest) (int, error) {
				return p.Write(req.Buf, req.Flags, req.Deadline)
			},
			Read: func(req *domain.IORequest) (int, error) {
				data, err := p.Read(len(req.Buf), req.Flags, req.Deadline)
				n := copy(req.Buf, data)
				return n, err
			},
			Ioctl: func(cmd domain.Ioctl, arg interface{}) (interface{}, error) { return p.IOCtl(cmd, arg) },
			Flush: p.Flush,
			Reset: p.Reset,
		},
	}
	if err := r.RegisterDevice(d); err != nil {
		return nil, nil, err
	}
	return d, p, nil
}

// NewBlockDevice builds a block device (spec §4.5.3) backed by a
// fixed-size store with a bounded write-through cache, wires its Ops
// vtable to the pipeline, and registers it. IORequest.Offset addresses
// the backing store; IORequest.Flags is unused (block I/O has no
// NONBLOCK/DMA distinction at this layer).
func (r *Registry) NewBlockDevice(name string, totalBlocks, blockSize int64, cacheSlots int) (*domain.Device, *block.Pipeline, error) {
	p := block.New(totalBlocks, blockSize, cacheSlots)
	d := &domain.Device{
		Name:  name,
		Class: domain.ClassBlock,
		Sub:   p,
		Ops: domain.Ops{
			Write: func(req *domain.IORequest) (int, error) { return p.Write(req.Offset, req.Buf) },
			Read: func(req *domain.IORequest) (int, error) {
				data, err := p.Read(req.Offset, len(req.Buf))
				n := copy(req.Buf, data)
				return n, err
			},
			Ioctl: func(cmd domain.Ioctl, arg interface{}) (interface{}, error) { return p.IOCtl(cmd, arg) },
			Flush: p.Fsync,
		},
	}
	if err := r.RegisterDevice(d); err != nil {
		return nil, nil, err
	}
	return d, p, nil
}

// NewNetDevice builds a network device (spec §4.5.4), wires its Ops
// vtable to the TX/RX queue pair, and registers it. Callers must Up()
// the returned pipeline and StartService() its drain/poll loop before
// traffic flows, and StopService()/UnregisterDevice when done.
func (r *Registry) NewNetDevice(name string, mac [6]byte, mtu int, injector net.Injector) (*domain.Device, *net.Pipeline, error) {
	p := net.New(mac, mtu, injector)
	d := &domain.Device{
		Name:  name,
		Class: domain.ClassNet,
		Sub:   p,
		Ops: domain.Ops{
			Write: func(req *domain.IORequest) (int, error) { return p.Write(req.Buf, req.Flags) },
			Read: func(req *domain.IORequest) (int, error) {
				data, err := p.Read(len(req.Buf), req.Flags)
				n := copy(req.Buf, data)
				return n, err
			},
			Ioctl: func(cmd domain.Ioctl, arg interface{}) (interface{}, error) { return p.IOCtl(cmd, arg) },
		},
	}
	if err := r.RegisterDevice(d); err != nil {
		return nil, nil, err
	}
	return d, p, nil
}

// NewTTYDevice builds a tty device (spec §4.5.5), wires its Ops
// vtable to the line discipline, and registers it. Write feeds each
// byte of req.Buf through the discipline one at a time, matching how
// a real tty driver hands the line discipline one input character at
// a time; there is no partial-write failure mode, so Write always
// reports len(req.Buf) consumed.
func (r *Registry) NewTTYDevice(name string, sink tty.SignalSink) (*domain.Device, *tty.Pipeline, error) {
	p := tty.New(sink)
	d := &domain.Device{
		Name:  name,
		Class: domain.ClassTTY,
		Sub:   p,
		Ops: domain.Ops{
			Write: func(req *domain.IORequest) (int, error) {
				for _, c := range req.Buf {
					p.Feed(c)
				}
				return len(req.Buf), nil
			},
			Read: func(req *domain.IORequest) (int, error) {
				data, err := p.Read(len(req.Buf), req.Flags)
				n := copy(req.Buf, data)
				return n, err
			},
			Ioctl: func(cmd domain.Ioctl, arg interface{}) (interface{}, error) { return p.IOCtl(cmd, arg) },
		},
	}
	if err := r.RegisterDevice(d); err != nil {
		return nil, nil, err
	}
	return d, p, nil
}
