package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kingrea/plugd/internal/plugin"
)

type stubPlugin struct {
	plugin.Base
}

func newStub(name string) *stubPlugin {
	return &stubPlugin{Base: plugin.NewBase(name, plugin.Identity("test/"+name))}
}

type siblingAware struct {
	plugin.Base
	seen    []string
	lookups map[plugin.Identity]bool
}

func (s *siblingAware) OnAdded(dir plugin.Directory) {
	for _, id := range []plugin.Identity{"test/A", "test/self"} {
		_, ok := dir.Lookup(id)
		s.lookups[id] = ok
	}
	if self, ok := dir.ByName(s.Name()); ok {
		s.seen = append(s.seen, self.Name())
	}
}

func TestRegisterAndLookup(t *testing.T) {
	reg := New()
	a := newStub("A")
	require.NoError(t, reg.Register(a))

	got, ok := reg.Lookup("test/A")
	require.True(t, ok)
	assert.Same(t, a, got)
	byName, ok := reg.ByName("A")
	require.True(t, ok)
	assert.Same(t, a, byName)

	_, ok = reg.Lookup("test/none")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, []string{"A"}, reg.Names())
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(newStub("A")))
	dup := &stubPlugin{Base: plugin.NewBase("A", "test/other")}
	err := reg.Register(dup)
	assert.ErrorIs(t, err, ErrDuplicateName)
	_, ok := reg.Lookup("test/other")
	assert.False(t, ok, "rejected plugin must not be visible")
}

func TestRegisterRejectsDuplicateIdentity(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(newStub("A")))
	dup := &stubPlugin{Base: plugin.NewBase("A2", "test/A")}
	assert.ErrorIs(t, reg.Register(dup), ErrDuplicateIdentity)
	_, ok := reg.ByName("A2")
	assert.False(t, ok)
}

func TestRegisterRejectsInvalidPlugins(t *testing.T) {
	reg := New()
	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(&stubPlugin{Base: plugin.NewBase(" ", "test/blank")}))
	assert.Error(t, reg.Register(&stubPlugin{Base: plugin.NewBase("x", "")}))
	assert.Error(t, reg.Register(&stubPlugin{}))
}

func TestRegisterAfterLockFails(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(newStub("A")))
	require.NoError(t, reg.Lock())

	assert.ErrorIs(t, reg.Register(newStub("B")), ErrLocked)
	// locked wins over duplicate regardless of order of checks
	assert.ErrorIs(t, reg.Register(newStub("A")), ErrLocked)
}

func TestDuplicateBeforeLockThenLocked(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(newStub("A")))
	assert.ErrorIs(t, reg.Register(newStub("A")), ErrDuplicateName)
	require.NoError(t, reg.Lock())
	assert.ErrorIs(t, reg.Register(newStub("C")), ErrLocked)
}

func TestLockResolvesOrderOnce(t *testing.T) {
	reg := New()
	a := newStub("A")
	b := newStub("B")
	b.RunAfter("test/A")
	c := newStub("C")
	c.RunBefore("test/A")
	reg.MustRegister(a)
	reg.MustRegister(b)
	reg.MustRegister(c)

	assert.Nil(t, reg.Ordered())
	_, err := reg.Plan()
	assert.ErrorIs(t, err, ErrNotLocked)

	require.NoError(t, reg.Lock())
	require.NoError(t, reg.Lock(), "second lock is a no-op")
	assert.True(t, reg.Locked())

	names := make([]string, 0, 3)
	for _, p := range reg.Ordered() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"C", "A", "B"}, names)
	plan, err := reg.Plan()
	require.NoError(t, err)
	assert.Equal(t, names, plan.Names())
	// registration order is untouched
	assert.Equal(t, []string{"A", "B", "C"}, reg.Names())
}

func TestOrderedReturnsCopy(t *testing.T) {
	reg := New()
	reg.MustRegister(newStub("A"))
	reg.MustRegister(newStub("B"))
	require.NoError(t, reg.Lock())
	first := reg.Ordered()
	first[0] = nil
	assert.NotNil(t, reg.Ordered()[0])
}

func TestOnAddedSeesRegistry(t *testing.T) {
	reg := New()
	reg.MustRegister(newStub("A"))
	aware := &siblingAware{Base: plugin.NewBase("self", "test/self"), lookups: map[plugin.Identity]bool{}}
	require.NoError(t, reg.Register(aware))
	assert.True(t, aware.lookups["test/A"])
	assert.True(t, aware.lookups["test/self"], "plugin is visible to itself during OnAdded")
	assert.Equal(t, []string{"self"}, aware.seen)
}

func TestMustRegisterPanics(t *testing.T) {
	reg := New()
	reg.MustRegister(newStub("A"))
	assert.Panics(t, func() { reg.MustRegister(newStub("A")) })
}

func TestLockWarnsAboutCycles(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	reg := New(WithLogger(zap.New(core)))
	a := newStub("A")
	a.RunAfter("test/B")
	b := newStub("B")
	b.RunAfter("test/A")
	reg.MustRegister(a)
	reg.MustRegister(b)
	require.NoError(t, reg.Lock())

	entries := logs.FilterMessageSnippet("cycle").All()
	require.Len(t, entries, 1)
	assert.Equal(t, []any{"A", "B"}, entries[0].ContextMap()["plugins"])
	assert.Len(t, reg.Ordered(), 2)
}
