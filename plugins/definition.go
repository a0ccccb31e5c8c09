package plugins

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kingrea/plugd/internal/plugin"
)

// Kind selects the startup behaviour of a declared plugin.
type Kind string

const (
	// KindNoop reports ready as soon as its process-start hook runs.
	KindNoop Kind = "noop"
	// KindExec launches a command.
	KindExec Kind = "exec"
	// KindHTTP polls a URL until it answers with a 2xx status.
	KindHTTP Kind = "http"
)

// Exec readiness modes.
const (
	ReadyOnStart = "start"
	ReadyOnExit  = "exit"
)

const (
	defaultIdentityPrefix = "decl/"
	defaultProbeInterval  = 250 * time.Millisecond
)

// Definition describes a plugin loaded from .plugd/plugins.
//
// The struct mirrors the on-disk schema so definitions can be validated
// before anything is registered.
type Definition struct {
	Name        string         `json:"name" yaml:"name"`
	Identity    string         `json:"identity,omitempty" yaml:"identity,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Before      []string       `json:"before,omitempty" yaml:"before,omitempty"`
	After       []string       `json:"after,omitempty" yaml:"after,omitempty"`
	Kind        Kind           `json:"kind,omitempty" yaml:"kind,omitempty"`
	Exec        ExecSpec       `json:"exec,omitempty" yaml:"exec,omitempty"`
	HTTP        HTTPSpec       `json:"http,omitempty" yaml:"http,omitempty"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ExecSpec configures KindExec plugins.
type ExecSpec struct {
	Command []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	// Ready is "start" (default) or "exit".
	Ready string `json:"ready,omitempty" yaml:"ready,omitempty"`
}

// HTTPSpec configures KindHTTP plugins.
type HTTPSpec struct {
	URL      string        `json:"url,omitempty" yaml:"url,omitempty"`
	Interval time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// Normalized returns a trimmed copy with defaults applied.
func (def Definition) Normalized() Definition {
	clone := Definition{
		Name:        strings.TrimSpace(def.Name),
		Identity:    strings.TrimSpace(def.Identity),
		Description: strings.TrimSpace(def.Description),
		Before:      trimAll(def.Before),
		After:       trimAll(def.After),
		Kind:        Kind(strings.ToLower(strings.TrimSpace(string(def.Kind)))),
		Exec:        def.Exec.normalized(),
		HTTP:        def.HTTP.normalized(),
	}
	if clone.Identity == "" && clone.Name != "" {
		clone.Identity = defaultIdentityPrefix + clone.Name
	}
	if clone.Kind == "" {
		clone.Kind = KindNoop
	}
	if len(def.Config) > 0 {
		clone.Config = make(map[string]any, len(def.Config))
		for key, value := range def.Config {
			trimmed := strings.TrimSpace(key)
			if trimmed == "" {
				continue
			}
			clone.Config[trimmed] = value
		}
	}
	return clone
}

// Validate ensures the definition is well-formed.
func (def Definition) Validate() error {
	normalized := def.Normalized()
	if normalized.Name == "" {
		return fmt.Errorf("plugin: name is required")
	}
	switch normalized.Kind {
	case KindNoop:
	case KindExec:
		if err := normalized.Exec.Validate(); err != nil {
			return fmt.Errorf("plugin %s: exec: %w", normalized.Name, err)
		}
	case KindHTTP:
		if err := normalized.HTTP.Validate(); err != nil {
			return fmt.Errorf("plugin %s: http: %w", normalized.Name, err)
		}
	default:
		return fmt.Errorf("plugin %s: unknown kind %q", normalized.Name, normalized.Kind)
	}
	return nil
}

// PluginIdentity returns the identity the plugin registers under.
func (def Definition) PluginIdentity() plugin.Identity {
	return plugin.Identity(def.Normalized().Identity)
}

func (spec ExecSpec) normalized() ExecSpec {
	clone := ExecSpec{
		Dir:   strings.TrimSpace(spec.Dir),
		Ready: strings.ToLower(strings.TrimSpace(spec.Ready)),
	}
	if len(spec.Command) > 0 {
		clone.Command = append([]string{}, spec.Command...)
		clone.Command[0] = strings.TrimSpace(clone.Command[0])
	}
	if clone.Ready == "" {
		clone.Ready = ReadyOnStart
	}
	if len(spec.Env) > 0 {
		clone.Env = make(map[string]string, len(spec.Env))
		for key, value := range spec.Env {
			trimmedKey := strings.TrimSpace(key)
			if trimmedKey == "" {
				continue
			}
			clone.Env[trimmedKey] = value
		}
	}
	return clone
}

// Validate ensures the command is runnable in principle.
func (spec ExecSpec) Validate() error {
	normalized := spec.normalized()
	if len(normalized.Command) == 0 || normalized.Command[0] == "" {
		return fmt.Errorf("command is required")
	}
	if normalized.Ready != ReadyOnStart && normalized.Ready != ReadyOnExit {
		return fmt.Errorf("ready must be %q or %q", ReadyOnStart, ReadyOnExit)
	}
	return nil
}

func (spec HTTPSpec) normalized() HTTPSpec {
	clone := HTTPSpec{URL: strings.TrimSpace(spec.URL), Interval: spec.Interval}
	if clone.Interval <= 0 {
		clone.Interval = defaultProbeInterval
	}
	return clone
}

// Validate ensures the probe URL is absolute http(s).
func (spec HTTPSpec) Validate() error {
	normalized := spec.normalized()
	if normalized.URL == "" {
		return fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(normalized.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
