package lifecycle

import (
	"errors"
	"fmt"
)

// State is the orchestrator's position in the startup sequence.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateServerStarting
	StateServerStarted
	StateProcessStarting
	StateProcessReady
	StateProcessPartiallyFailed
	// StateAborted is entered when an Init or BeforeServerStart hook fails.
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateServerStarting:
		return "server-starting"
	case StateServerStarted:
		return "server-started"
	case StateProcessStarting:
		return "process-starting"
	case StateProcessReady:
		return "process-ready"
	case StateProcessPartiallyFailed:
		return "process-partially-failed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further phase can run from s.
func (s State) Terminal() bool {
	return s == StateProcessReady || s == StateProcessPartiallyFailed || s == StateAborted
}

// Phase names a lifecycle hook.
type Phase string

const (
	PhaseInit               Phase = "init"
	PhaseBeforeServerStart  Phase = "before-server-start"
	PhaseBeforeProcessStart Phase = "before-process-start"
)

var (
	// ErrNotLocked is returned when a phase runs before the registry fixed its order.
	ErrNotLocked = errors.New("lifecycle: plugin registry is not locked")
	// ErrPhaseOrder is returned when phases are driven out of sequence.
	ErrPhaseOrder = errors.New("lifecycle: phase called out of order")
	// ErrReadinessTimeout marks a plugin that did not report readiness in time.
	ErrReadinessTimeout = errors.New("lifecycle: plugin readiness timed out")
)

// HookError wraps a failure raised by a plugin hook.
type HookError struct {
	Plugin string
	Phase  Phase
	Err    error
}

// Error implements error.
func (e *HookError) Error() string {
	return fmt.Sprintf("lifecycle: %s hook of plugin %s failed: %v", e.Phase, e.Plugin, e.Err)
}

// Unwrap exposes the hook's error.
func (e *HookError) Unwrap() error {
	return e.Err
}
