package plugin

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kingrea/plugd/internal/config"
)

// Context carries shared runtime dependencies into every plugin hook. The
// orchestrator passes it through unmodified.
type Context struct {
	// Runtime is the process-wide context; it is cancelled on shutdown.
	Runtime   context.Context
	Config    *config.Config
	Logger    *zap.Logger
	Directory Directory

	mu     sync.RWMutex
	values map[string]any
}

// NewContext builds a Context. Nil arguments are replaced with usable
// defaults.
func NewContext(runtime context.Context, cfg *config.Config, logger *zap.Logger, dir Directory) *Context {
	if runtime == nil {
		runtime = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		Runtime:   runtime,
		Config:    cfg,
		Logger:    logger,
		Directory: dir,
		values:    map[string]any{},
	}
}

// Set stores a shared value under key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[string]any{}
	}
	c.values[key] = value
}

// Value returns the value stored under key.
func (c *Context) Value(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// PluginConfig returns the configuration section for the named plugin.
func (c *Context) PluginConfig(name string) map[string]any {
	if c == nil || c.Config == nil {
		return nil
	}
	return c.Config.PluginSettings(name)
}
