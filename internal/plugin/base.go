package plugin

import "github.com/kingrea/plugd/internal/readiness"

// Base provides common plumbing for plugins (identity, ordering constraints
// and the readiness signal). Embed it and override the hooks you need.
type Base struct {
	name     string
	identity Identity
	before   []Identity
	after    []Identity
	ready    *readiness.Signal
}

// NewBase seeds the helper with the plugin's name and identity.
func NewBase(name string, identity Identity, opts ...readiness.Option) Base {
	return Base{
		name:     name,
		identity: identity,
		ready:    readiness.New(opts...),
	}
}

// RunBefore declares identities this plugin must run before.
func (b *Base) RunBefore(ids ...Identity) {
	b.before = appendUnique(b.before, ids...)
}

// RunAfter declares identities this plugin must run after.
func (b *Base) RunAfter(ids ...Identity) {
	b.after = appendUnique(b.after, ids...)
}

// Name implements Plugin.Name.
func (b *Base) Name() string {
	return b.name
}

// Identity implements Plugin.Identity.
func (b *Base) Identity() Identity {
	return b.identity
}

// Before implements Plugin.Before.
func (b *Base) Before() []Identity {
	return append([]Identity{}, b.before...)
}

// After implements Plugin.After.
func (b *Base) After() []Identity {
	return append([]Identity{}, b.after...)
}

// Readiness implements Plugin.Readiness.
func (b *Base) Readiness() *readiness.Signal {
	return b.ready
}

// Ready completes the readiness signal.
func (b *Base) Ready() bool {
	if b.ready == nil {
		return false
	}
	return b.ready.Complete()
}

// Init implements Plugin.Init as a no-op.
func (b *Base) Init(*Context) error {
	return nil
}

// BeforeServerStart implements Plugin.BeforeServerStart as a no-op.
func (b *Base) BeforeServerStart(*Context) error {
	return nil
}

// BeforeProcessStart implements Plugin.BeforeProcessStart by signalling
// readiness immediately.
func (b *Base) BeforeProcessStart(*Context) error {
	b.Ready()
	return nil
}

func appendUnique(dst []Identity, ids ...Identity) []Identity {
	for _, id := range ids {
		if id == "" {
			continue
		}
		dup := false
		for _, existing := range dst {
			if existing == id {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, id)
		}
	}
	return dst
}
