package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/plugd/internal/config"
)

type sample struct {
	Base
}

func TestTypeIdentity(t *testing.T) {
	assert.Equal(t, Identity("github.com/kingrea/plugd/internal/plugin.sample"), TypeIdentity(&sample{}))
	assert.Equal(t, TypeIdentity(sample{}), TypeIdentity(&sample{}))
	assert.Equal(t, Identity("int"), TypeIdentity(3))
	assert.Equal(t, Identity(""), TypeIdentity(nil))
}

func TestBaseConstraintsAreDeduplicated(t *testing.T) {
	b := NewBase("db", "decl/db")
	b.RunAfter("decl/net", "", "decl/net")
	b.RunBefore("decl/api")
	b.RunBefore("decl/api", "decl/web")

	assert.Equal(t, []Identity{"decl/net"}, b.After())
	assert.Equal(t, []Identity{"decl/api", "decl/web"}, b.Before())

	// Callers get a copy.
	after := b.After()
	after[0] = "mutated"
	assert.Equal(t, []Identity{"decl/net"}, b.After())
}

func TestBaseProcessStartCompletesReadiness(t *testing.T) {
	b := NewBase("db", "decl/db")
	require.False(t, b.Readiness().Completed())
	require.NoError(t, b.Init(nil))
	require.NoError(t, b.BeforeServerStart(nil))
	require.NoError(t, b.BeforeProcessStart(nil))
	assert.True(t, b.Readiness().Completed())
	assert.False(t, b.Ready(), "second completion is a no-op")
}

func TestValidate(t *testing.T) {
	assert.Error(t, Validate(nil))

	noName := &sample{Base: NewBase(" ", "x")}
	assert.ErrorContains(t, Validate(noName), "name is required")

	noIdentity := &sample{Base: NewBase("db", "")}
	assert.ErrorContains(t, Validate(noIdentity), "identity is required for db")

	noSignal := &sample{Base: Base{name: "db", identity: "decl/db"}}
	assert.ErrorContains(t, Validate(noSignal), "readiness signal is required")

	assert.NoError(t, Validate(&sample{Base: NewBase("db", "decl/db")}))
}

func TestContextValuesAndConfig(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Project.Plugins.Config = map[string]map[string]any{"db": {"dsn": "postgres://"}}

	ctx := NewContext(nil, cfg, nil, nil)
	require.NotNil(t, ctx.Runtime)
	require.NotNil(t, ctx.Logger)
	assert.Equal(t, context.Background(), ctx.Runtime)

	ctx.Set("port", 8080)
	v, ok := ctx.Value("port")
	require.True(t, ok)
	assert.Equal(t, 8080, v)
	_, ok = ctx.Value("missing")
	assert.False(t, ok)

	assert.Equal(t, "postgres://", ctx.PluginConfig("db")["dsn"])
	assert.Nil(t, (*Context)(nil).PluginConfig("db"))
}
