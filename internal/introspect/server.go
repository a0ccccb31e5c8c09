// Package introspect serves a small HTTP API describing startup progress:
// liveness, aggregate readiness, the resolved plugin plan and metrics.
package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kingrea/plugd/internal/lifecycle"
	"github.com/kingrea/plugd/internal/registry"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// Plugin start statuses reported by /plugins.
const (
	PluginPending   = "pending"
	PluginSucceeded = "succeeded"
	PluginFailed    = "failed"
)

// ErrDisabled is returned by Start when the server is switched off.
var ErrDisabled = errors.New("introspect: server disabled")

// StateSource exposes the orchestrator state.
type StateSource interface {
	State() lifecycle.State
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithGatherer serves metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithStateSource reports the orchestrator state on /health and /ready.
func WithStateSource(src StateSource) Option {
	return func(s *Server) {
		if src != nil {
			s.state = src
		}
	}
}

type pluginStatus struct {
	status  string
	err     string
	elapsed time.Duration
}

// Server wraps the HTTP listener and handlers.
type Server struct {
	settings Settings
	registry *registry.Registry
	state    StateSource
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	clock    clock.Clock
	handler  http.Handler

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time

	trackMu  sync.RWMutex
	plugins  map[string]pluginStatus
	allReady bool
}

// NewServer prepares an introspection server over reg.
func NewServer(settings Settings, reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		registry: reg,
		gatherer: prometheus.DefaultGatherer,
		logger:   zap.NewNop(),
		clock:    clock.New(),
		status:   StatusStarting,
		plugins:  map[string]pluginStatus{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.handler = s.routes()
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Head("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/plugins", s.handlePlugins)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	return r
}

// Track folds lifecycle events into the status served by /plugins and /ready.
// It returns when events closes or ctx is done.
func (s *Server) Track(ctx context.Context, events <-chan lifecycle.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.observe(evt)
		}
	}
}

func (s *Server) observe(evt lifecycle.Event) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	switch evt.Kind {
	case lifecycle.KindPluginSucceeded:
		s.plugins[evt.Name] = pluginStatus{status: PluginSucceeded, elapsed: evt.Elapsed}
	case lifecycle.KindPluginFailed:
		st := pluginStatus{status: PluginFailed, elapsed: evt.Elapsed}
		if evt.Err != nil {
			st.err = evt.Err.Error()
		}
		s.plugins[evt.Name] = st
	case lifecycle.KindAllReady:
		s.allReady = true
	}
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("introspect: server is nil")
	}
	if !s.settings.Enabled {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("introspect: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("introspect: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock.Now()
	server := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("introspect: serve error", zap.Error(err))
		}
	}()
	s.logger.Info("introspection server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return fmt.Errorf("introspect: shutdown: %w", err)
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock.Since(s.startTime).Seconds())
}

func (s *Server) stateName() string {
	if s.state == nil {
		return ""
	}
	return s.state.State().String()
}

type healthResponse struct {
	Status        string `json:"status"`
	State         string `json:"state,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type readyResponse struct {
	Ready bool   `json:"ready"`
	State string `json:"state,omitempty"`
}

type pluginResponse struct {
	Rank      int    `json:"rank"`
	Name      string `json:"name"`
	Identity  string `json:"identity"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		State:         s.stateName(),
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.trackMu.RLock()
	ready := s.allReady
	s.trackMu.RUnlock()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, readyResponse{Ready: ready, State: s.stateName()})
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	if s.registry == nil {
		writeJSON(w, http.StatusOK, []pluginResponse{})
		return
	}
	plan, err := s.registry.Plan()
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	s.trackMu.RLock()
	defer s.trackMu.RUnlock()
	out := make([]pluginResponse, 0, len(plan.Order))
	for _, p := range plan.Order {
		rank, _ := plan.Rank(p.Name())
		item := pluginResponse{
			Rank:     rank,
			Name:     p.Name(),
			Identity: p.Identity().String(),
			Status:   PluginPending,
		}
		if st, ok := s.plugins[p.Name()]; ok {
			item.Status = st.status
			item.Error = st.err
			item.ElapsedMS = st.elapsed.Milliseconds()
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
