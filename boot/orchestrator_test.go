package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestShutdownCleansUpExactlySuccessfulInitsInReverse is the spec
// §4.1 contract: given a fixed module list and deterministic init
// outcomes, the set of cleanup calls equals exactly the set of
// successful init calls, in reverse order.
func TestShutdownCleansUpExactlySuccessfulInitsInReverse(t *testing.T) {
	var cleanupOrder []string

	mkModule := func(name string, priority int, fail bool) *Module {
		return &Module{
			Name:     name,
			Priority: priority,
			Critical: false,
			Init: func() error {
				if fail {
					return assert.AnError
				}
				return nil
			},
			Cleanup: func() error {
				cleanupOrder = append(cleanupOrder, name)
				return nil
			},
		}
	}

	o := New([]*Module{
		mkModule("c", 3, false),
		mkModule("a", 1, false),
		mkModule("b", 2, true),
		mkModule("d", 4, false),
	})

	action := o.Boot()
	assert.Equal(t, ActionContinue, action)

	o.Shutdown()
	assert.Equal(t, []string{"d", "c", "a"}, cleanupOrder)
}

func TestCriticalFailureEntersEmergencyAndSkipsRemaining(t *testing.T) {
	var initialized []string

	mkModule := func(name string, priority int, critical, fail bool) *Module {
		return &Module{
			Name:     name,
			Priority: priority,
			Critical: critical,
			Init: func() error {
				if fail {
					return assert.AnError
				}
				initialized = append(initialized, name)
				return nil
			},
			Cleanup: func() error { return nil },
		}
	}

	o := New([]*Module{
		mkModule("first", 1, false, false),
		mkModule("second", 2, true, true),
		mkModule("third", 3, false, false),
	})
	o.Prompt = func() EmergencyAction { return ActionShutdown }

	action := o.Boot()
	assert.Equal(t, ActionShutdown, action)
	assert.True(t, o.Emergency())
	assert.Equal(t, []string{"first"}, initialized)
}

func TestResolveClearsEmergency(t *testing.T) {
	o := New([]*Module{{
		Name: "x", Priority: 1, Critical: true,
		Init:    func() error { return assert.AnError },
		Cleanup: func() error { return nil },
	}})
	o.Prompt = func() EmergencyAction { return ActionContinue }

	action := o.Boot()
	require.Equal(t, ActionContinue, action)
	require.True(t, o.Emergency())

	o.Resolve(action)
	assert.False(t, o.Emergency())
}

func TestCleanupErrorsDoNotAbortShutdown(t *testing.T) {
	var cleaned []string
	mkModule := func(name string, priority int, cleanupFails bool) *Module {
		return &Module{
			Name: name, Priority: priority,
			Init: func() error { return nil },
			Cleanup: func() error {
				cleaned = append(cleaned, name)
				if cleanupFails {
					return assert.AnError
				}
				return nil
			},
		}
	}

	o := New([]*Module{mkModule("a", 1, true), mkModule("b", 2, false)})
	o.Boot()
	o.Shutdown()

	assert.Equal(t, []string{"b", "a"}, cleaned)
}
