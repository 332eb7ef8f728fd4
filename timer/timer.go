// Package timer implements the timer subsystem (spec §4.4): a coarse
// hashed timer wheel for millisecond-granularity timers and a sorted
// high-resolution queue for nanosecond timers, driven by one shared
// driver task.
package timer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kos-sim/kos/kclock"
	"github.com/kos-sim/kos/kerrors"
)

// Type is the timer kind (spec §3).
type Type int

const (
	Oneshot Type = iota
	Periodic
	HRTimer
)

// State is a timer's lifecycle state (spec §3).
type State int

const (
	Inactive State = iota
	Active
	Expired
	Cancelled
)

// Callback runs on the driver task (spec §4.4). It must not block on
// anything that itself waits on the driver task.
type Callback func(id uint64, data interface{})

// Timer is one deferred callback record. The subsystem owns every
// Timer; callers address them by id.
type Timer struct {
	id         uint64
	typ        Type
	expiresNs  int64
	intervalNs int64
	cb         Callback
	data       interface{}
	state      State
	fireCount  uint64

	wheelSlot int
	wheelNext *Timer
	wheelPrev *Timer

	hrNext *Timer
}

const wheelSize = 512
const wheelResolutionMs = 1

// Stats is the single definition of timer-subsystem statistics (spec
// §9 design note: the source's duplicate kos_time_stats struct is
// accidental; this module exposes only one).
type Stats struct {
	Resolution       time.Duration
	CurrentJiffies   uint64
	ActiveWheelCount int
	ActiveHRCount    int
	TotalFires       uint64
	ClockSource      string
}

// Subsystem owns the wheel, the HR queue and the driver task.
type Subsystem struct {
	mu sync.Mutex

	clock *kclock.Clock

	wheel          [wheelSize]*Timer
	currentJiffies uint64

	hrHead *Timer

	timers map[uint64]*Timer
	nextID uint64

	totalFires uint64

	stop chan struct{}
	done chan struct{}
}

// New builds a Subsystem bound to clock; the driver task is not
// started until StartDriver is called.
func New(clock *kclock.Clock) *Subsystem {
	return &Subsystem{
		clock:  clock,
		timers: make(map[uint64]*Timer),
	}
}

// Create returns a new inactive timer with an assigned id (spec §4.4
// Create/start/stop/delete contract).
func (s *Subsystem) Create(typ Type, intervalNs int64, cb Callback, data interface{}) (uint64, error) {
	if typ == Periodic && intervalNs <= 0 {
		return 0, kerrors.InvalidParamf("timer: periodic timer requires interval > 0")
	}
	if cb == nil {
		return 0, kerrors.InvalidParamf("timer: callback must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	t := &Timer{id: id, typ: typ, intervalNs: intervalNs, cb: cb, data: data, state: Inactive}
	s.timers[id] = t
	return id, nil
}

// Start arms a timer to fire at expiresAtNs, an absolute
// monotonic-clock time in nanoseconds (spec §3 "absolute expiration
// (ns)"). Use StartAfter for a relative delay.
func (s *Subsystem) Start(id uint64, expiresAtNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return kerrors.NotFoundf("timer: no such timer %d", id)
	}
	if t.state != Inactive {
		return kerrors.InvalidParamf("timer: timer %d is not inactive", id)
	}

	t.expiresNs = expiresAtNs
	t.state = Active

	if t.typ == HRTimer {
		s.hrInsert(t)
	} else {
		s.wheelInsert(t)
	}
	return nil
}

// StartAfter is a convenience that arms the timer durationNs from now.
func (s *Subsystem) StartAfter(id uint64, durationNs int64) error {
	now := int64(s.clock.NowNanos())
	return s.Start(id, now+durationNs)
}

// Stop requires the timer be active; it removes it from its structure
// and marks it cancelled (spec §4.4).
func (s *Subsystem) Stop(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return kerrors.NotFoundf("timer: no such timer %d", id)
	}
	if t.state != Active {
		return kerrors.InvalidParamf("timer: timer %d is not active", id)
	}

	if t.typ == HRTimer {
		s.hrRemove(t)
	} else {
		s.wheelRemove(t)
	}
	t.state = Cancelled
	return nil
}

// Delete implies Stop (if active) and destroys the record.
func (s *Subsystem) Delete(id uint64) error {
	s.mu.Lock()
	t, ok := s.timers[id]
	if !ok {
		s.mu.Unlock()
		return kerrors.NotFoundf("timer: no such timer %d", id)
	}
	active := t.state == Active
	s.mu.Unlock()

	if active {
		if err := s.Stop(id); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()
	logrus.Debugf("timer: deleted timer %d", id)
	return nil
}

// Info is a read-only timer snapshot.
type Info struct {
	ID        uint64
	Type      Type
	State     State
	FireCount uint64
	ExpiresNs int64
}

func (s *Subsystem) Info(id uint64) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		return Info{}, false
	}
	return Info{ID: t.id, Type: t.typ, State: t.state, FireCount: t.fireCount, ExpiresNs: t.expiresNs}, true
}

func (s *Subsystem) wheelInsert(t *Timer) {
	// Round up so the slot is the first jiffy at or after expiry: when
	// Tick drains that slot, now >= expiresNs and the timer fires
	// instead of waiting a full wheel turn.
	res := uint64(wheelResolutionMs * int64(time.Millisecond))
	slot := int(((uint64(t.expiresNs) + res - 1) / res) % wheelSize)
	t.wheelSlot = slot
	t.wheelNext = s.wheel[slot]
	t.wheelPrev = nil
	if s.wheel[slot] != nil {
		s.wheel[slot].wheelPrev = t
	}
	s.wheel[slot] = t
}

func (s *Subsystem) wheelRemove(t *Timer) {
	if t.wheelPrev != nil {
		t.wheelPrev.wheelNext = t.wheelNext
	} else if s.wheel[t.wheelSlot] == t {
		s.wheel[t.wheelSlot] = t.wheelNext
	}
	if t.wheelNext != nil {
		t.wheelNext.wheelPrev = t.wheelPrev
	}
	t.wheelNext, t.wheelPrev = nil, nil
}

func (s *Subsystem) hrInsert(t *Timer) {
	if s.hrHead == nil || t.expiresNs < s.hrHead.expiresNs {
		t.hrNext = s.hrHead
		s.hrHead = t
		return
	}
	cur := s.hrHead
	for cur.hrNext != nil && cur.hrNext.expiresNs <= t.expiresNs {
		cur = cur.hrNext
	}
	t.hrNext = cur.hrNext
	cur.hrNext = t
}

func (s *Subsystem) hrRemove(t *Timer) {
	if s.hrHead == t {
		s.hrHead = t.hrNext
		t.hrNext = nil
		return
	}
	cur := s.hrHead
	for cur != nil && cur.hrNext != t {
		cur = cur.hrNext
	}
	if cur != nil {
		cur.hrNext = t.hrNext
	}
	t.hrNext = nil
}

// Tick advances the wheel to now and fires every expired HR timer.
// Exported so tests can drive the subsystem deterministically;
// StartDriver runs it on an interval automatically.
func (s *Subsystem) Tick() {
	now := int64(s.clock.NowNanos())

	s.mu.Lock()
	target := uint64(now) / uint64(wheelResolutionMs*int64(time.Millisecond))
	var toFire []*Timer

	for s.currentJiffies < target {
		s.currentJiffies++
		slot := int(s.currentJiffies % wheelSize)
		t := s.wheel[slot]
		s.wheel[slot] = nil
		for t != nil {
			next := t.wheelNext
			t.wheelNext, t.wheelPrev = nil, nil
			if t.expiresNs <= now {
				toFire = append(toFire, t)
			} else {
				s.wheelInsert(t)
			}
			t = next
		}
	}

	for s.hrHead != nil && s.hrHead.expiresNs <= now {
		t := s.hrHead
		s.hrHead = t.hrNext
		t.hrNext = nil
		toFire = append(toFire, t)
	}
	s.mu.Unlock()

	for _, t := range toFire {
		s.fire(t, now)
	}
}

func (s *Subsystem) fire(t *Timer, now int64) {
	t.cb(t.id, t.data)

	s.mu.Lock()
	t.fireCount++
	s.totalFires++
	if t.typ == Periodic {
		t.expiresNs = now + t.intervalNs
		t.state = Active
		if t.typ == HRTimer {
			s.hrInsert(t)
		} else {
			s.wheelInsert(t)
		}
	} else {
		t.state = Expired
	}
	s.mu.Unlock()
}

// StartDriver launches the driver task, ticking roughly every
// resolution.
func (s *Subsystem) StartDriver() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(wheelResolutionMs * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
}

// StopDriver halts the background driver task (does not affect
// individual timers).
func (s *Subsystem) StopDriver() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
}

// Stats returns the one true timer-subsystem statistics snapshot.
func (s *Subsystem) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	activeWheel := 0
	for _, head := range s.wheel {
		for t := head; t != nil; t = t.wheelNext {
			activeWheel++
		}
	}
	activeHR := 0
	for t := s.hrHead; t != nil; t = t.hrNext {
		activeHR++
	}

	return Stats{
		Resolution:       wheelResolutionMs * time.Millisecond,
		CurrentJiffies:   s.currentJiffies,
		ActiveWheelCount: activeWheel,
		ActiveHRCount:    activeHR,
		TotalFires:       s.totalFires,
		ClockSource:      s.clock.SourceName(),
	}
}
