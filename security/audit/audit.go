// Package audit implements the audit ring (spec §4.7.4): a bounded,
// lossy ring buffer of events plus an append-only file sink, gated by
// a configurable rule set.
package audit

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/sirupsen/logrus"

	"github.com/kos-sim/kos/domain"
	"github.com/kos-sim/kos/kclock"
	"github.com/kos-sim/kos/security/crypto"
)

const DefaultCapacity = 4096

// Ring is the bounded event buffer plus file sink (spec §4.7.4).
type Ring struct {
	mu       sync.Mutex
	entries  []domain.AuditEvent
	head     int
	dropped  uint64
	capacity int

	seq     uint64
	clock   *kclock.Clock
	lastTag []byte

	rules []domain.AuditRule

	sink   *bufio.Writer
	closer io.Closer
}

// New builds a ring of the given capacity (0 means DefaultCapacity)
// writing to sink, if non-nil.
func New(capacity int, clock *kclock.Clock, sink io.WriteCloser) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Ring{capacity: capacity, clock: clock}
	if sink != nil {
		r.sink = bufio.NewWriter(sink)
		r.closer = sink
	}
	return r
}

// SetRules replaces the matching rule set; log_event honors the new
// rules immediately.
func (r *Ring) SetRules(rules []domain.AuditRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
}

func (r *Ring) matchesLocked(typ string, subject domain.SubjectID, message string) bool {
	if len(r.rules) == 0 {
		return true
	}
	for _, rule := range r.rules {
		if !rule.Enabled {
			continue
		}
		if rule.Type != "" && rule.Type != "*" && rule.Type != typ {
			continue
		}
		if rule.Subject != nil && *rule.Subject != subject {
			continue
		}
		if rule.Substring != "" && !strings.Contains(message, rule.Substring) {
			continue
		}
		return true
	}
	return false
}

// LogEvent implements log_event(type, subject, message) (spec
// §4.7.4). Producers never block; on overflow the oldest ring entry
// is evicted and the drop counter rises (spec §9 "lossy rings
// everywhere"). Every event is stamped with a hash-chained integrity
// tag (this event's rendered line plus the previous event's tag) so a
// tampered or reordered entry is detectable via Verify.
func (r *Ring) LogEvent(typ string, subject domain.SubjectID, message string, euid, ruid, gid uint32, comm, exe string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.matchesLocked(typ, subject, message) {
		return
	}

	r.seq++
	ev := domain.AuditEvent{
		TimestampNanos: int64(r.clock.NowNanos()),
		Seq:            r.seq,
		Subject:        subject,
		EUID:           euid,
		RUID:           ruid,
		GID:            gid,
		Type:           typ,
		Message:        message,
		Comm:           comm,
		Exe:            exe,
	}

	tag, err := chainTag(r.lastTag, rawLine(ev))
	if err != nil {
		logrus.Errorf("audit: integrity tag computation failed: %v", err)
	} else {
		ev.IntegrityTag = hex.EncodeToString(tag)
		r.lastTag = tag
	}

	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, ev)
	} else {
		r.entries[r.head] = ev
		r.head = (r.head + 1) % r.capacity
		r.dropped++
	}

	if r.sink != nil {
		fmt.Fprintln(r.sink, formatLine(ev))
		r.sink.Flush()
	}
}

// chainTag hashes prevTag||line with the security core's crypto
// collaborator (spec §4.7.5 hash primitive), so the audit ring's
// tamper-evidence doesn't hand-roll its own digest.
func chainTag(prevTag []byte, line string) ([]byte, error) {
	combined := make([]byte, 0, len(prevTag)+len(line))
	combined = append(combined, prevTag...)
	combined = append(combined, line...)
	return crypto.Hash(crypto.SHA256, combined)
}

// rawLine renders an event's fields per spec §6's audit file format,
// excluding the integrity tag (which is computed over this string).
func rawLine(ev domain.AuditEvent) string {
	secs := ev.TimestampNanos / int64(time.Second)
	millis := (ev.TimestampNanos % int64(time.Second)) / int64(time.Millisecond)
	return fmt.Sprintf(
		"type=%s msg=audit(%d.%03d:%d): pid=%d uid=%d gid=%d comm=%q exe=%q msg=%q",
		ev.Type, secs, millis, ev.Seq, ev.Subject, ev.EUID, ev.GID, ev.Comm, ev.Exe, ev.Message,
	)
}

// formatLine renders a full audit line including the integrity tag.
func formatLine(ev domain.AuditEvent) string {
	return fmt.Sprintf("%s tag=%s", rawLine(ev), ev.IntegrityTag)
}

// Verify recomputes the hash chain over a contiguous run of events
// (as returned by Snapshot, oldest first) and reports whether every
// tag matches, using the crypto collaborator's constant-time compare.
// It assumes events[0] is the chain's root (prevTag = nil); for a ring
// that has overflowed, that means Verify attests to the integrity of
// the currently buffered window, not the full lifetime of the ring.
func Verify(events []domain.AuditEvent) (bool, error) {
	var prevTag []byte
	for _, ev := range events {
		tag, err := chainTag(prevTag, rawLine(ev))
		if err != nil {
			return false, err
		}
		if !crypto.SecureCompare(tag, mustDecodeHex(ev.IntegrityTag)) {
			return false, nil
		}
		prevTag = tag
	}
	return true, nil
}

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// Snapshot returns a copy of the ring's current entries, oldest first.
func (r *Ring) Snapshot() []domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.AuditEvent, 0, len(r.entries))
	if len(r.entries) < r.capacity {
		out = append(out, r.entries...)
		return out
	}
	out = append(out, r.entries[r.head:]...)
	out = append(out, r.entries[:r.head]...)
	return out
}

func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sink != nil {
		r.sink.Flush()
	}
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// NewCorrelationID mints an id for correlating a burst of related
// audit events (e.g. a single syscall-filter violation's log+trace
// pair), grounded on the teacher's indirect go-uuid dependency.
func NewCorrelationID() (string, error) {
	return uuid.GenerateUUID()
}
