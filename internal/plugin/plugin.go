package plugin

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/kingrea/plugd/internal/readiness"
)

// Identity names a concrete plugin implementation. Ordering constraints refer
// to identities rather than plugin names.
type Identity string

// String implements fmt.Stringer.
func (id Identity) String() string {
	return string(id)
}

// TypeIdentity derives an identity from the dynamic Go type of v (package
// path plus type name, pointer indirections removed).
func TypeIdentity(v any) Identity {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return Identity(t.String())
	}
	return Identity(t.PkgPath() + "." + t.Name())
}

// Plugin is implemented by every extension unit driven by the lifecycle
// orchestrator.
type Plugin interface {
	Name() string
	Identity() Identity
	// Before lists identities this plugin must run before.
	Before() []Identity
	// After lists identities this plugin must run after.
	After() []Identity
	// Readiness is completed by the plugin once the asynchronous work started
	// in BeforeProcessStart has finished.
	Readiness() *readiness.Signal

	Init(ctx *Context) error
	BeforeServerStart(ctx *Context) error
	BeforeProcessStart(ctx *Context) error
}

// Directory exposes read access to the plugins known to a registry.
type Directory interface {
	Lookup(id Identity) (Plugin, bool)
	ByName(name string) (Plugin, bool)
}

// Addable is implemented by plugins that want to inspect their siblings when
// they are registered.
type Addable interface {
	OnAdded(dir Directory)
}

// Validate ensures p carries the identity fields the registry relies on.
func Validate(p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin: plugin is required")
	}
	if strings.TrimSpace(p.Name()) == "" {
		return fmt.Errorf("plugin: name is required")
	}
	if strings.TrimSpace(string(p.Identity())) == "" {
		return fmt.Errorf("plugin: identity is required for %s", p.Name())
	}
	if p.Readiness() == nil {
		return fmt.Errorf("plugin: readiness signal is required for %s", p.Name())
	}
	return nil
}
