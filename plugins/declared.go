package plugins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"github.com/kingrea/plugd/internal/plugin"
)

const probeRequestTimeout = 2 * time.Second

// DeclaredPlugin is a plugin built from a Definition. Its process-start hook
// launches the declared work and completes readiness when that work reports
// in.
type DeclaredPlugin struct {
	plugin.Base

	def      Definition
	source   string
	client   *http.Client
	settings map[string]any

	mu     sync.Mutex
	logger *zap.Logger
	cancel context.CancelFunc
	exited chan struct{}
}

// NewDeclared builds a plugin from def. source names where def came from.
func NewDeclared(def Definition, source string) (*DeclaredPlugin, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	normalized := def.Normalized()
	p := &DeclaredPlugin{
		Base:     plugin.NewBase(normalized.Name, plugin.Identity(normalized.Identity)),
		def:      normalized,
		source:   source,
		client:   &http.Client{Timeout: probeRequestTimeout},
		settings: mergeConfigs(normalized.Config, nil),
		logger:   zap.NewNop(),
	}
	for _, id := range normalized.Before {
		p.RunBefore(plugin.Identity(id))
	}
	for _, id := range normalized.After {
		p.RunAfter(plugin.Identity(id))
	}
	return p, nil
}

// Definition returns the normalized definition.
func (p *DeclaredPlugin) Definition() Definition {
	return p.def
}

// Source returns the file the definition was loaded from.
func (p *DeclaredPlugin) Source() string {
	return p.source
}

// Settings returns the definition config overlaid with project overrides.
func (p *DeclaredPlugin) Settings() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return mergeConfigs(p.settings, nil)
}

// Init resolves settings and checks that an exec command can be found.
func (p *DeclaredPlugin) Init(ctx *plugin.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx != nil {
		if ctx.Logger != nil {
			p.logger = ctx.Logger.With(zap.String("plugin", p.Name()))
		}
		p.settings = mergeConfigs(p.def.Config, ctx.PluginConfig(p.Name()))
	}
	if p.def.Kind == KindExec {
		if _, err := exec.LookPath(p.def.Exec.Command[0]); err != nil {
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
	}
	return nil
}

// BeforeProcessStart starts the declared work. It returns once the work is
// launched; readiness follows asynchronously.
func (p *DeclaredPlugin) BeforeProcessStart(ctx *plugin.Context) error {
	runtime := context.Background()
	if ctx != nil && ctx.Runtime != nil {
		runtime = ctx.Runtime
	}
	switch p.def.Kind {
	case KindExec:
		return p.startCommand(runtime, ctx)
	case KindHTTP:
		runCtx := p.begin(runtime)
		go func() {
			defer close(p.exited)
			p.probe(runCtx)
		}()
		return nil
	default:
		p.Ready()
		return nil
	}
}

// Stop cancels any work started by BeforeProcessStart and waits for it to
// finish or for ctx to expire.
func (p *DeclaredPlugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, exited := p.cancel, p.exited
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("plugin %s: stop: %w", p.Name(), ctx.Err())
	}
}

func (p *DeclaredPlugin) begin(parent context.Context) context.Context {
	runCtx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.cancel = cancel
	p.exited = make(chan struct{})
	p.mu.Unlock()
	return runCtx
}

func (p *DeclaredPlugin) startCommand(runtime context.Context, ctx *plugin.Context) error {
	spec := p.def.Exec
	runCtx := p.begin(runtime)
	cmd := exec.CommandContext(runCtx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = p.commandDir(ctx)
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(spec.Env))
	for key := range spec.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		cmd.Env = append(cmd.Env, key+"="+spec.Env[key])
	}
	logger := p.currentLogger()
	stdout := &zapio.Writer{Log: logger.With(zap.String("stream", "stdout")), Level: zap.InfoLevel}
	stderr := &zapio.Writer{Log: logger.With(zap.String("stream", "stderr")), Level: zap.WarnLevel}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		p.mu.Lock()
		p.cancel()
		close(p.exited)
		p.mu.Unlock()
		return fmt.Errorf("plugin %s: start %s: %w", p.Name(), spec.Command[0], err)
	}
	logger.Debug("command started", zap.Int("pid", cmd.Process.Pid))
	if spec.Ready == ReadyOnStart {
		p.Ready()
	}
	go func() {
		err := cmd.Wait()
		_ = stdout.Close()
		_ = stderr.Close()
		p.mu.Lock()
		close(p.exited)
		p.mu.Unlock()
		switch {
		case spec.Ready == ReadyOnExit && err == nil:
			p.Ready()
		case err != nil && runCtx.Err() == nil:
			logger.Error("command exited", zap.Error(err))
		default:
			logger.Debug("command finished")
		}
	}()
	return nil
}

func (p *DeclaredPlugin) commandDir(ctx *plugin.Context) string {
	dir := p.def.Exec.Dir
	base := ""
	if ctx != nil && ctx.Config != nil {
		base = ctx.Config.ProjectDir
	}
	if dir == "" {
		return base
	}
	if filepath.IsAbs(dir) || base == "" {
		return dir
	}
	return filepath.Join(base, dir)
}

func (p *DeclaredPlugin) probe(ctx context.Context) {
	spec := p.def.HTTP
	ticker := time.NewTicker(spec.Interval)
	defer ticker.Stop()
	// closed when readiness completes or the orchestrator gives up
	done := p.Readiness().Done()
	logger := p.currentLogger()
	for {
		err := p.check(ctx, spec.URL)
		if err == nil {
			p.Ready()
			logger.Debug("probe succeeded", zap.String("url", spec.URL))
			return
		}
		logger.Debug("probe failed", zap.String("url", spec.URL), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

var errProbeStatus = errors.New("unexpected status")

func (p *DeclaredPlugin) check(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w %d", errProbeStatus, resp.StatusCode)
	}
	return nil
}

func (p *DeclaredPlugin) currentLogger() *zap.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logger
}

func mergeConfigs(base, overrides map[string]any) map[string]any {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}
	merged := make(map[string]any, len(base)+len(overrides))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range overrides {
		merged[key] = value
	}
	return merged
}
