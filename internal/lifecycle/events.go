package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/plugd/internal/plugin"
)

// ManagerName labels events emitted on behalf of the orchestrator itself.
const ManagerName = "plugin-manager"

// Kind tags a lifecycle notification.
type Kind string

const (
	KindBeforeServerStart  Kind = "before-server-start"
	KindAfterServerStart   Kind = "after-server-start"
	KindBeforeProcessStart Kind = "before-process-start"
	KindAfterProcessStart  Kind = "after-process-start"
	KindPluginSucceeded    Kind = "plugin-succeeded"
	KindPluginFailed       Kind = "plugin-failed"
	KindAllReady           Kind = "all-ready"
)

// Kinds lists every event kind in emission order.
func Kinds() []Kind {
	return []Kind{
		KindBeforeServerStart,
		KindAfterServerStart,
		KindBeforeProcessStart,
		KindAfterProcessStart,
		KindPluginSucceeded,
		KindPluginFailed,
		KindAllReady,
	}
}

// PluginScoped reports whether events of this kind reference a plugin.
func (k Kind) PluginScoped() bool {
	return k == KindPluginSucceeded || k == KindPluginFailed
}

// Event is a lifecycle notification. Plugin is nil for orchestrator-level
// events.
type Event struct {
	ID     string
	Kind   Kind
	Plugin plugin.Plugin
	// Name is the plugin name, or ManagerName for orchestrator-level events.
	Name string
	Err  error
	// Elapsed is how long the plugin took to become ready or fail.
	Elapsed time.Duration
	Time    time.Time
}

func newEvent(kind Kind, p plugin.Plugin, now time.Time) Event {
	evt := Event{
		ID:   uuid.NewString(),
		Kind: kind,
		Name: ManagerName,
		Time: now,
	}
	if p != nil {
		evt.Plugin = p
		evt.Name = p.Name()
	}
	return evt
}

// Dispatcher consumes lifecycle events. Implementations must not block.
type Dispatcher interface {
	Dispatch(Event)
}

// DispatcherFunc adapts a function into a Dispatcher.
type DispatcherFunc func(Event)

// Dispatch executes f(evt).
func (f DispatcherFunc) Dispatch(evt Event) {
	if f == nil {
		return
	}
	f(evt)
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(Event) {}
