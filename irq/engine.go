// Package irq implements the interrupt dispatch and balancing engine
// (spec §4.3): a per-source descriptor table with handler chains,
// optional per-source worker tasks for threaded handlers, and a
// balancing policy task that recomputes target CPUs.
package irq

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kos-sim/kos/kerrors"
)

// State is an IRQ descriptor's lifecycle state (spec §3).
type State int

const (
	Inactive State = iota
	Active
	Disabled
	Handling
)

// Policy selects how target CPUs are assigned to active sources
// (spec §4.3).
type Policy int

const (
	PolicyNone Policy = iota
	PolicyRoundRobin
	PolicyLoadBased
	PolicyAdaptive
)

// HandlerFunc returns true if it handled the interrupt.
type HandlerFunc func(source int, data interface{}) bool

type handlerEntry struct {
	name     string
	fn       HandlerFunc
	data     interface{}
	shared   bool
	threaded bool
	count    uint64
}

// TraceEntry is one slot of a source's bounded dispatch trace
// (SPEC_FULL §5, 4.3a — observability only, doesn't affect dispatch).
type TraceEntry struct {
	TimestampNanos int64
	Outcome        string // "handled" | "spurious" | "unhandled"
}

const traceCapacity = 64

// descriptor is one source's full state.
type descriptor struct {
	mu sync.Mutex

	id       int
	state    State
	handlers []*handlerEntry
	targetCPU int

	handled   uint64
	spurious  uint64
	unhandled uint64
	nested    int32

	trace     []TraceEntry
	traceHead int
	traceDrop uint64

	worker     *threadedWorker
}

type threadedWorker struct {
	cond    *sync.Cond
	mu      sync.Mutex
	pending int
	stop    bool
	done    chan struct{}
}

// Engine is the full per-source descriptor table plus the balancing
// task. Handlers on one source serialize with one another; handlers
// across sources run concurrently (spec §4.3 Ordering).
type Engine struct {
	mu          sync.RWMutex
	descriptors map[int]*descriptor
	maxHandlers int

	policy      Policy
	intervalMS  int
	cpuCount    int
	cpuLoad     []int64
	rrNext      int

	balanceStop chan struct{}
	balanceDone chan struct{}
}

// Config bundles the Engine's tunables.
type Config struct {
	MaxHandlersPerSource int
	CPUCount             int
	Policy               Policy
	BalanceIntervalMS    int
}

// New builds an Engine with no active sources.
func New(cfg Config) *Engine {
	if cfg.MaxHandlersPerSource <= 0 {
		cfg.MaxHandlersPerSource = 8
	}
	if cfg.CPUCount <= 0 {
		cfg.CPUCount = 1
	}
	if cfg.BalanceIntervalMS <= 0 {
		cfg.BalanceIntervalMS = 1000
	}
	return &Engine{
		descriptors: make(map[int]*descriptor),
		maxHandlers: cfg.MaxHandlersPerSource,
		policy:      cfg.Policy,
		intervalMS:  cfg.BalanceIntervalMS,
		cpuCount:    cfg.CPUCount,
		cpuLoad:     make([]int64, cfg.CPUCount),
	}
}

func (e *Engine) descriptorFor(source int, create bool) *descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.descriptors[source]
	if !ok {
		if !create {
			return nil
		}
		d = &descriptor{id: source, state: Inactive}
		e.descriptors[source] = d
	}
	return d
}

// RegisterHandler attaches a handler to source. The first handler
// activates the source and selects its target CPU per the current
// balancing policy (spec §4.3 Registration rules).
func (e *Engine) RegisterHandler(source int, name string, fn HandlerFunc, data interface{}, shared, threaded bool) error {
	d := e.descriptorFor(source, true)

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.handlers) >= e.maxHandlers {
		return kerrors.Busyf("irq: source %d handler chain full", source)
	}

	if len(d.handlers) > 0 {
		lastShared := d.handlers[len(d.handlers)-1].shared
		if !lastShared || !shared {
			return kerrors.InvalidParamf("irq: source %d requires the shared flag on both sides to add another handler", source)
		}
	}

	he := &handlerEntry{name: name, fn: fn, data: data, shared: shared, threaded: threaded}
	d.handlers = append(d.handlers, he)

	if d.state == Inactive {
		d.state = Active
		d.targetCPU = e.selectTargetCPU()
	}

	if threaded && d.worker == nil {
		d.worker = newThreadedWorker()
		go d.worker.run(func() { e.runChain(d) })
	}

	return nil
}

// UnregisterHandler removes the named handler from source; if it was
// the last handler the source returns to Inactive and any threaded
// worker is drained before returning (spec §5 Cancellation).
func (e *Engine) UnregisterHandler(source int, name string) error {
	d := e.descriptorFor(source, false)
	if d == nil {
		return kerrors.NotFoundf("irq: no such source %d", source)
	}

	d.mu.Lock()
	idx := -1
	for i, h := range d.handlers {
		if h.name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return kerrors.NotFoundf("irq: handler %q not found on source %d", name, source)
	}
	d.handlers = append(d.handlers[:idx], d.handlers[idx+1:]...)
	empty := len(d.handlers) == 0
	if empty {
		d.state = Inactive
	}
	worker := d.worker
	if empty {
		d.worker = nil
	}
	d.mu.Unlock()

	if empty && worker != nil {
		worker.shutdown()
	}
	return nil
}

// Dispatch delivers one stimulus to source. Non-threaded chains run
// synchronously on the calling goroutine; threaded chains signal the
// worker and return immediately (spec §4.3 Dispatch).
func (e *Engine) Dispatch(source int) {
	d := e.descriptorFor(source, true)

	d.mu.Lock()
	if d.state != Active {
		d.spurious++
		e.recordTrace(d, "spurious")
		d.mu.Unlock()
		return
	}
	d.state = Handling
	atomic.AddInt32(&d.nested, 1)
	threaded := len(d.handlers) > 0 && d.handlers[0].threaded
	worker := d.worker
	d.mu.Unlock()

	if threaded && worker != nil {
		worker.signal()
		return
	}

	e.runChain(d)
}

func (e *Engine) runChain(d *descriptor) {
	d.mu.Lock()
	handlers := append([]*handlerEntry(nil), d.handlers...)
	d.mu.Unlock()

	handled := false
	for _, h := range handlers {
		if h.fn(d.id, h.data) {
			handled = true
		}
		atomic.AddUint64(&h.count, 1)
	}

	d.mu.Lock()
	if handled {
		d.handled++
		e.recordTrace(d, "handled")
	} else {
		d.unhandled++
		e.recordTrace(d, "unhandled")
	}
	if d.state == Handling {
		d.state = Active
	}
	atomic.AddInt32(&d.nested, -1)
	d.mu.Unlock()
}

func (e *Engine) recordTrace(d *descriptor, outcome string) {
	entry := TraceEntry{TimestampNanos: time.Now().UnixNano(), Outcome: outcome}
	if len(d.trace) < traceCapacity {
		d.trace = append(d.trace, entry)
	} else {
		d.trace[d.traceHead] = entry
		d.traceHead = (d.traceHead + 1) % traceCapacity
		d.traceDrop++
	}
}

// Trace returns a copy of source's bounded dispatch trace, oldest
// first.
func (e *Engine) Trace(source int) []TraceEntry {
	d := e.descriptorFor(source, false)
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]TraceEntry, 0, len(d.trace))
	if len(d.trace) < traceCapacity {
		out = append(out, d.trace...)
	} else {
		out = append(out, d.trace[d.traceHead:]...)
		out = append(out, d.trace[:d.traceHead]...)
	}
	return out
}

// Counters snapshot for one source.
type Counters struct {
	Handled, Spurious, Unhandled uint64
	State                        State
	TargetCPU                    int
	TraceDropped                 uint64
}

func (e *Engine) Stats(source int) (Counters, bool) {
	d := e.descriptorFor(source, false)
	if d == nil {
		return Counters{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return Counters{
		Handled:      d.handled,
		Spurious:     d.spurious,
		Unhandled:    d.unhandled,
		State:        d.state,
		TargetCPU:    d.targetCPU,
		TraceDropped: d.traceDrop,
	}, true
}

func (e *Engine) selectTargetCPU() int {
	switch e.policy {
	case PolicyRoundRobin:
		cpu := e.rrNext
		e.rrNext = (e.rrNext + 1) % e.cpuCount
		return cpu
	case PolicyLoadBased, PolicyAdaptive:
		best := 0
		for i := 1; i < len(e.cpuLoad); i++ {
			if atomic.LoadInt64(&e.cpuLoad[i]) < atomic.LoadInt64(&e.cpuLoad[best]) {
				best = i
			}
		}
		atomic.AddInt64(&e.cpuLoad[best], 1)
		return best
	default:
		return 0
	}
}

// StartBalancer launches the periodic balancing task (spec §4.3: "a
// dedicated balancing task runs every interval_ms, recomputing target
// CPUs per policy"). Call StopBalancer to stop it.
func (e *Engine) StartBalancer() {
	if e.policy == PolicyNone {
		return
	}
	e.balanceStop = make(chan struct{})
	e.balanceDone = make(chan struct{})
	go func() {
		defer close(e.balanceDone)
		ticker := time.NewTicker(time.Duration(e.intervalMS) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-e.balanceStop:
				return
			case <-ticker.C:
				e.rebalance()
			}
		}
	}()
}

func (e *Engine) StopBalancer() {
	if e.balanceStop == nil {
		return
	}
	close(e.balanceStop)
	<-e.balanceDone
	e.balanceStop = nil
}

func (e *Engine) rebalance() {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, d := range e.descriptors {
		d.mu.Lock()
		if d.state != Inactive {
			d.targetCPU = e.selectTargetCPU()
		}
		d.mu.Unlock()
	}
	logrus.Tracef("irq: balancer pass complete (%d sources)", len(e.descriptors))
}

func newThreadedWorker() *threadedWorker {
	w := &threadedWorker{done: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *threadedWorker) run(chain func()) {
	defer close(w.done)
	w.mu.Lock()
	for {
		for w.pending == 0 && !w.stop {
			w.cond.Wait()
		}
		if w.stop && w.pending == 0 {
			w.mu.Unlock()
			return
		}
		w.pending--
		w.mu.Unlock()

		chain()

		w.mu.Lock()
	}
}

func (w *threadedWorker) signal() {
	w.mu.Lock()
	w.pending++
	w.mu.Unlock()
	w.cond.Signal()
}

func (w *threadedWorker) shutdown() {
	w.mu.Lock()
	w.stop = true
	w.mu.Unlock()
	w.cond.Signal()
	<-w.done
}
