package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/kingrea/plugd/internal/config"
	"github.com/kingrea/plugd/internal/plugin"
	"github.com/kingrea/plugd/internal/readiness"
	"github.com/kingrea/plugd/internal/registry"
)

// Option customizes Orchestrator construction.
type Option func(*Orchestrator)

// WithLogger injects the logger used for phase diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDispatcher routes lifecycle events to d.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Orchestrator) {
		if d != nil {
			o.dispatcher = d
		}
	}
}

// WithClock injects the clock used for readiness deadlines and timings.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithReadinessTimeout overrides the per-plugin readiness deadline.
func WithReadinessTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Orchestrator drives registered plugins through the startup phases in the
// registry's resolved order.
type Orchestrator struct {
	registry   *registry.Registry
	logger     *zap.Logger
	dispatcher Dispatcher
	clock      clock.Clock
	timeout    time.Duration

	ready        *readiness.Signal
	allReadyOnce sync.Once

	mu    sync.RWMutex
	state State
}

// New builds an orchestrator over reg. The registry must be locked before Init.
func New(reg *registry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:   reg,
		logger:     zap.NewNop(),
		dispatcher: nopDispatcher{},
		clock:      clock.New(),
		timeout:    config.DefaultReadinessTimeout,
		state:      StateCreated,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.ready = readiness.New(readiness.WithClock(o.clock))
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Ready returns a channel closed once the process-start phase has finished.
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.ready.Done()
}

// ReadinessTimeout returns the per-plugin readiness deadline.
func (o *Orchestrator) ReadinessTimeout() time.Duration {
	return o.timeout
}

// Init runs every plugin's Init hook, stopping at the first failure.
func (o *Orchestrator) Init(ctx *plugin.Context) error {
	if o.registry == nil || !o.registry.Locked() {
		return ErrNotLocked
	}
	if err := o.advance(StateCreated, StateInitialized); err != nil {
		return err
	}
	for _, p := range o.registry.Ordered() {
		o.logger.Debug("loading plugin", zap.String("plugin", p.Name()), zap.String("identity", p.Identity().String()))
		if err := p.Init(ctx); err != nil {
			return o.abort(&HookError{Plugin: p.Name(), Phase: PhaseInit, Err: err})
		}
	}
	return nil
}

// BeforeServerStart runs every plugin's BeforeServerStart hook, stopping at
// the first failure.
func (o *Orchestrator) BeforeServerStart(ctx *plugin.Context) error {
	if err := o.advance(StateInitialized, StateServerStarting); err != nil {
		return err
	}
	o.emit(KindBeforeServerStart, nil, nil, 0)
	for _, p := range o.registry.Ordered() {
		if err := p.BeforeServerStart(ctx); err != nil {
			return o.abort(&HookError{Plugin: p.Name(), Phase: PhaseBeforeServerStart, Err: err})
		}
	}
	o.emit(KindAfterServerStart, nil, nil, 0)
	o.setState(StateServerStarted)
	return nil
}

// BeforeProcessStart runs each plugin's BeforeProcessStart hook and waits for
// its readiness before moving to the next plugin. Plugin failures are
// reported through logs and events; only phase-order violations are returned.
func (o *Orchestrator) BeforeProcessStart(ctx *plugin.Context) error {
	if err := o.advance(StateServerStarted, StateProcessStarting); err != nil {
		return err
	}
	o.emit(KindBeforeProcessStart, nil, nil, 0)

	failed := 0
	for _, p := range o.registry.Ordered() {
		if !o.startPlugin(ctx, p) {
			failed++
		}
	}

	o.emit(KindAfterProcessStart, nil, nil, 0)
	if failed > 0 {
		o.setState(StateProcessPartiallyFailed)
		o.logger.Warn("process start finished with failed plugins", zap.Int("failed", failed))
	} else {
		o.setState(StateProcessReady)
	}
	o.ready.Complete()
	return nil
}

// WaitReady blocks until BeforeProcessStart has finished, then announces
// all-ready once. Later calls return immediately.
func (o *Orchestrator) WaitReady() {
	o.ready.Wait()
	o.ready.Close()
	o.allReadyOnce.Do(func() {
		o.emit(KindAllReady, nil, nil, 0)
	})
}

func (o *Orchestrator) startPlugin(ctx *plugin.Context, p plugin.Plugin) bool {
	started := o.clock.Now()
	if err := o.callProcessHook(ctx, p); err != nil {
		hookErr := &HookError{Plugin: p.Name(), Phase: PhaseBeforeProcessStart, Err: err}
		o.logger.Error("plugin failed to start", zap.String("plugin", p.Name()), zap.Error(err))
		o.emit(KindPluginFailed, p, hookErr, o.clock.Since(started))
		return false
	}

	signal := p.Readiness()
	if !signal.WaitForClock(o.clock, o.timeout) {
		signal.Close()
		elapsed := o.clock.Since(started)
		o.logger.Error("plugin did not become ready",
			zap.String("plugin", p.Name()),
			zap.Duration("timeout", o.timeout),
		)
		o.emit(KindPluginFailed, p, fmt.Errorf("%w: %s after %s", ErrReadinessTimeout, p.Name(), o.timeout), elapsed)
		return false
	}
	elapsed := o.clock.Since(started)
	o.logger.Debug("plugin ready", zap.String("plugin", p.Name()), zap.Duration("elapsed", elapsed))
	o.emit(KindPluginSucceeded, p, nil, elapsed)
	return true
}

func (o *Orchestrator) callProcessHook(ctx *plugin.Context, p plugin.Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.BeforeProcessStart(ctx)
}

func (o *Orchestrator) advance(from, to State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != from {
		return fmt.Errorf("%w: state is %s, want %s", ErrPhaseOrder, o.state, from)
	}
	o.state = to
	return nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) abort(err *HookError) error {
	o.setState(StateAborted)
	o.logger.Error("plugin hook failed", zap.String("plugin", err.Plugin), zap.String("phase", string(err.Phase)), zap.Error(err.Err))
	return err
}

func (o *Orchestrator) emit(kind Kind, p plugin.Plugin, err error, elapsed time.Duration) {
	evt := newEvent(kind, p, o.clock.Now())
	evt.Err = err
	evt.Elapsed = elapsed
	o.dispatcher.Dispatch(evt)
}

// IsReadinessTimeout reports whether err marks a readiness timeout.
func IsReadinessTimeout(err error) bool {
	return errors.Is(err, ErrReadinessTimeout)
}
