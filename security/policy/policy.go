// Package policy implements the policy engine and access-vector cache
// (spec §4.7.2): an ordered, wildcard-matching rule table fronted by a
// bounded, TTL-expiring AVC.
package policy

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/kos-sim/kos/domain"
)

const DefaultAVCSize = 1024
const DefaultAVCTTL = 5 * time.Second

type avcKey struct {
	source domain.PolicyType
	target domain.PolicyType
	class  domain.PolicyType
}

type avcValue struct {
	allowed   map[string]bool
	denied    map[string]bool
	expiresAt time.Time
}

// Engine is the replaceable rule table plus its AVC (spec §4.7.2).
type Engine struct {
	mu         sync.RWMutex
	rules      []domain.PolicyRule
	permissive bool

	avc    *lru.Cache
	avcTTL time.Duration
}

// New builds an engine with an empty rule table.
func New() *Engine {
	cache, _ := lru.New(DefaultAVCSize)
	return &Engine{avc: cache, avcTTL: DefaultAVCTTL}
}

// SetPermissive toggles permissive mode (spec §4.7.2 step 4: denies
// are logged but the call still returns allow).
func (e *Engine) SetPermissive(p bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.permissive = p
}

// Reload replaces the rule table and clears the AVC (spec §4.7.2 step
// 5).
func (e *Engine) Reload(rules []domain.PolicyRule) {
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	e.avc.Purge()
}

// Check implements access(scontext, tcontext, class, perm) (spec
// §4.7.2).
func (e *Engine) Check(source, target, class domain.PolicyType, perm string) domain.Decision {
	key := avcKey{source, target, class}

	// Peek, not Get: a hit does not refresh recency, so when the cache
	// is full the oldest inserted entry is the one evicted.
	if v, ok := e.avc.Peek(key); ok {
		entry := v.(avcValue)
		if time.Now().Before(entry.expiresAt) {
			return e.resolve(source, target, class, perm, entry)
		}
		e.avc.Remove(key)
	}

	entry := e.computeLocked(source, target, class)
	e.avc.Add(key, entry)
	return e.resolve(source, target, class, perm, entry)
}

func (e *Engine) resolve(source, target, class domain.PolicyType, perm string, entry avcValue) domain.Decision {
	decision := domain.Deny
	if entry.allowed[perm] || entry.allowed["*"] {
		decision = domain.Allow
	}

	e.mu.RLock()
	permissive := e.permissive
	e.mu.RUnlock()

	if decision == domain.Deny {
		if permissive {
			logrus.Infof("policy: permissive deny source=%s target=%s class=%s perm=%s", source, target, class, perm)
			return domain.Allow
		}
	}
	return decision
}

// computeLocked walks the rule table in order; the first matching
// rule (wildcards allowed in source/target/class) decides.
func (e *Engine) computeLocked(source, target, class domain.PolicyType) avcValue {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		if !typeMatches(r.SourceType, source) {
			continue
		}
		if !typeMatches(r.TargetType, target) {
			continue
		}
		if !typeMatches(r.Class, class) {
			continue
		}

		if r.Decision == domain.Allow {
			return avcValue{allowed: r.Perms, denied: map[string]bool{}, expiresAt: time.Now().Add(e.avcTTL)}
		}
		return avcValue{allowed: map[string]bool{}, denied: r.Perms, expiresAt: time.Now().Add(e.avcTTL)}
	}
	return avcValue{allowed: map[string]bool{}, denied: map[string]bool{}, expiresAt: time.Now().Add(e.avcTTL)}
}

func typeMatches(rule, actual domain.PolicyType) bool {
	return rule == domain.Wildcard || rule == actual
}
