// Package boot implements the boot orchestrator (spec §4.1): an
// ordered list of init modules driven by ascending priority, with a
// sticky emergency mode entered when a critical module fails.
package boot

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// EmergencyAction is the operator's response to emergency mode (spec
// §4.1's minimal interactive prompt).
type EmergencyAction int

const (
	ActionReboot EmergencyAction = iota
	ActionShutdown
	ActionContinue
)

// Module is one entry in the boot orchestrator's ordered list.
type Module struct {
	Name     string
	Priority int
	Critical bool
	Init     func() error
	Cleanup  func() error
}

// ModuleStatus is a read-only diagnostic snapshot (SPEC_FULL §5,
// 4.1a).
type ModuleStatus struct {
	Name        string
	Priority    int
	Critical    bool
	Initialized bool
	Err         error
}

// Orchestrator drives Module.Init/Cleanup in priority order.
type Orchestrator struct {
	mu        sync.Mutex
	modules   []*Module
	initState map[string]bool
	initErr   map[string]error
	emergency bool

	// Prompt resolves the emergency-mode decision. Tests and
	// non-interactive deployments (--emergency-auto) substitute a
	// fixed-answer implementation.
	Prompt func() EmergencyAction
}

// New builds an orchestrator over modules, sorted ascending by
// priority (spec §4.1).
func New(modules []*Module) *Orchestrator {
	sorted := append([]*Module(nil), modules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &Orchestrator{
		modules:   sorted,
		initState: make(map[string]bool),
		initErr:   make(map[string]error),
	}
}

// Boot runs every module's Init in ascending-priority order. If a
// critical module fails, the orchestrator enters emergency mode:
// subsequent modules are skipped and Prompt is consulted. Non-critical
// failures are logged and boot continues (spec §4.1).
func (o *Orchestrator) Boot() EmergencyAction {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, m := range o.modules {
		if o.emergency {
			break
		}

		err := m.Init()
		if err == nil {
			o.initState[m.Name] = true
			continue
		}

		o.initErr[m.Name] = err
		if m.Critical {
			logrus.Errorf("boot: critical module %q failed to initialize: %v", m.Name, err)
			o.emergency = true
			if o.Prompt != nil {
				return o.Prompt()
			}
			return ActionShutdown
		}
		logrus.Warnf("boot: non-critical module %q failed to initialize: %v", m.Name, err)
	}
	return ActionContinue
}

// Shutdown cleans up, in reverse priority order, exactly the modules
// observed initialized (spec §4.1's contract). Cleanup errors are
// logged but never abort the sequence.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := len(o.modules) - 1; i >= 0; i-- {
		m := o.modules[i]
		if !o.initState[m.Name] {
			continue
		}
		if err := m.Cleanup(); err != nil {
			logrus.Errorf("boot: cleanup of module %q failed: %v", m.Name, err)
		}
		o.initState[m.Name] = false
	}
}

// Emergency reports whether the orchestrator is in the sticky
// emergency state.
func (o *Orchestrator) Emergency() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.emergency
}

// Resolve clears emergency mode once the operator has chosen reboot,
// shutdown or continue (spec §4.1: "sticky flag until explicit
// reboot/shutdown/continue").
func (o *Orchestrator) Resolve(action EmergencyAction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emergency = false
}

// Status returns a diagnostic snapshot of every module (SPEC_FULL §5,
// 4.1a).
func (o *Orchestrator) Status() []ModuleStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]ModuleStatus, 0, len(o.modules))
	for _, m := range o.modules {
		out = append(out, ModuleStatus{
			Name:        m.Name,
			Priority:    m.Priority,
			Critical:    m.Critical,
			Initialized: o.initState[m.Name],
			Err:         o.initErr[m.Name],
		})
	}
	return out
}
