package plugins

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/plugd/internal/config"
	"github.com/kingrea/plugd/internal/plugin"
)

func newContext(t *testing.T) *plugin.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return plugin.NewContext(ctx, config.Default(t.TempDir()), nil, nil)
}

func TestNoopPluginReadyImmediately(t *testing.T) {
	p, err := NewDeclared(Definition{Name: "noop", Before: []string{"decl/api"}}, "inline")
	require.NoError(t, err)
	assert.Equal(t, plugin.Identity("decl/noop"), p.Identity())
	assert.Equal(t, []plugin.Identity{"decl/api"}, p.Before())
	assert.Equal(t, "inline", p.Source())

	ctx := newContext(t)
	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.BeforeProcessStart(ctx))
	assert.True(t, p.Readiness().Completed())
	require.NoError(t, p.Stop(context.Background()))
}

func TestSettingsMergeProjectOverrides(t *testing.T) {
	p, err := NewDeclared(Definition{Name: "api", Config: map[string]any{"replicas": 1, "region": "eu"}}, "inline")
	require.NoError(t, err)
	ctx := newContext(t)
	ctx.Config.Project.Plugins.Config = map[string]map[string]any{"api": {"replicas": 3}}
	require.NoError(t, p.Init(ctx))
	assert.Equal(t, map[string]any{"replicas": 3, "region": "eu"}, p.Settings())
}

func TestHTTPPluginReadyWhenProbeSucceeds(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := NewDeclared(Definition{
		Name: "api",
		Kind: KindHTTP,
		HTTP: HTTPSpec{URL: srv.URL + "/health", Interval: 10 * time.Millisecond},
	}, "inline")
	require.NoError(t, err)
	ctx := newContext(t)
	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.BeforeProcessStart(ctx))

	assert.False(t, p.Readiness().WaitFor(50*time.Millisecond))
	healthy.Store(true)
	assert.True(t, p.Readiness().WaitFor(2*time.Second))

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(stopCtx))
}

func TestHTTPProbeStopsWhenSignalClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewDeclared(Definition{Name: "api", Kind: KindHTTP, HTTP: HTTPSpec{URL: srv.URL, Interval: 5 * time.Millisecond}}, "inline")
	require.NoError(t, err)
	ctx := newContext(t)
	require.NoError(t, p.BeforeProcessStart(ctx))
	p.Readiness().Close()

	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		t.Fatal("probe loop kept running after the signal closed")
	}
	assert.False(t, p.Readiness().Completed())
}

func TestExecPluginReadyOnExit(t *testing.T) {
	p, err := NewDeclared(Definition{
		Name: "migrate",
		Kind: KindExec,
		Exec: ExecSpec{Command: []string{"sh", "-c", "echo migrated"}, Ready: ReadyOnExit},
	}, "inline")
	require.NoError(t, err)
	ctx := newContext(t)
	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.BeforeProcessStart(ctx))
	assert.True(t, p.Readiness().WaitFor(5*time.Second))
}

func TestExecPluginFailingCommandNeverReady(t *testing.T) {
	p, err := NewDeclared(Definition{
		Name: "broken",
		Kind: KindExec,
		Exec: ExecSpec{Command: []string{"sh", "-c", "exit 3"}, Ready: ReadyOnExit},
	}, "inline")
	require.NoError(t, err)
	ctx := newContext(t)
	require.NoError(t, p.BeforeProcessStart(ctx))
	select {
	case <-p.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("command did not exit")
	}
	assert.False(t, p.Readiness().Completed())
}

func TestExecPluginReadyOnStartAndStop(t *testing.T) {
	p, err := NewDeclared(Definition{
		Name: "server",
		Kind: KindExec,
		Exec: ExecSpec{Command: []string{"sleep", "30"}},
	}, "inline")
	require.NoError(t, err)
	ctx := newContext(t)
	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.BeforeProcessStart(ctx))
	assert.True(t, p.Readiness().Completed())

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(stopCtx))
}

func TestExecPluginInitRejectsMissingCommand(t *testing.T) {
	p, err := NewDeclared(Definition{
		Name: "ghost",
		Kind: KindExec,
		Exec: ExecSpec{Command: []string{"plugd-definitely-not-installed"}},
	}, "inline")
	require.NoError(t, err)
	assert.Error(t, p.Init(newContext(t)))
}
