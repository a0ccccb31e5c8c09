// internal/config/config.go
//
// This package handles configuration and the .plugd directory structure.
// Every project that runs plugd gets a .plugd/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// PlugdDir is the name of the directory we create in each project
	PlugdDir = ".plugd"

	// DefaultReadinessTimeout bounds how long the orchestrator waits for a
	// single plugin to report readiness.
	DefaultReadinessTimeout = 5 * time.Second

	defaultLogLevel        = "info"
	defaultLogFile         = "plugd.log"
	defaultPluginsDir      = "plugins"
	defaultIntrospectHost  = "127.0.0.1"
	defaultIntrospectPort  = 9310
	maxReadinessTimeout    = 10 * time.Minute
	currentProjectVersion  = 1
	defaultProjectFileName = "config.yaml"
)

const defaultProjectConfigYAML = `# plugd project configuration
version: 1

startup:
  # How long each plugin may take to report readiness before it is marked failed.
  readiness_timeout: 5s

log:
  level: info
  # Relative paths are resolved against .plugd/logs. Use "-" to disable file output.
  file: plugd.log

introspection:
  enabled: true
  host: 127.0.0.1
  port: 9310

plugins:
  # Declarative plugin definitions (*.yaml, *.go) are loaded from this directory.
  dir: plugins
  # Names listed here are skipped during discovery.
  disabled: []
  # Per-plugin settings, keyed by plugin name.
  config: {}
`

// StartupConfig tunes the lifecycle orchestrator.
type StartupConfig struct {
	ReadinessTimeout time.Duration `yaml:"readiness_timeout"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// IntrospectionConfig controls the HTTP introspection server.
type IntrospectionConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// PluginsConfig describes where declarative plugins live and how they are tuned.
type PluginsConfig struct {
	Dir      string                    `yaml:"dir"`
	Disabled []string                  `yaml:"disabled,omitempty"`
	Config   map[string]map[string]any `yaml:"config,omitempty"`
}

// ProjectConfig models .plugd/config.yaml.
type ProjectConfig struct {
	Version       int                 `yaml:"version"`
	Startup       StartupConfig       `yaml:"startup"`
	Log           LogConfig           `yaml:"log"`
	Introspection IntrospectionConfig `yaml:"introspection"`
	Plugins       PluginsConfig       `yaml:"plugins"`
}

// Config holds the runtime configuration for plugd.
type Config struct {
	// ProjectDir is the directory plugd was started in
	ProjectDir string

	// PlugdProjectDir is ProjectDir/.plugd
	PlugdProjectDir string

	Project ProjectConfig
}

// InitDir creates the .plugd directory structure in the given project directory.
//
// Structure created:
// .plugd/
// ├── config.yaml
// ├── logs/       <- zap file output
// └── plugins/    <- declarative plugin definitions
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, PlugdDir)
	dirs := []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, defaultPluginsDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(root, defaultProjectFileName))
}

// NewConfig creates a Config populated with project settings. A missing
// config file yields the defaults.
func NewConfig(projectDir string) (*Config, error) {
	cfg := Default(projectDir)
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with default project settings rooted at projectDir.
func Default(projectDir string) *Config {
	project := defaultProjectConfig()
	project.normalize()
	return &Config{
		ProjectDir:      projectDir,
		PlugdProjectDir: filepath.Join(projectDir, PlugdDir),
		Project:         project,
	}
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.PlugdProjectDir, defaultProjectFileName)
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.PlugdProjectDir, "logs")
}

// LogFile returns the absolute log file path, or "" when file logging is off.
func (c *Config) LogFile() string {
	file := strings.TrimSpace(c.Project.Log.File)
	if file == "" || file == "-" {
		return ""
	}
	if filepath.IsAbs(file) {
		return filepath.Clean(file)
	}
	return filepath.Join(c.LogsDir(), file)
}

// LogbookFile returns the journal of startup events written by `plugd run`.
func (c *Config) LogbookFile() string {
	return filepath.Join(c.LogsDir(), "startup.log")
}

// PluginsDir returns the directory scanned for declarative plugins.
func (c *Config) PluginsDir() string {
	return resolvePath(c.PlugdProjectDir, c.Project.Plugins.Dir)
}

// ReadinessTimeout returns the per-plugin readiness wait.
func (c *Config) ReadinessTimeout() time.Duration {
	if c == nil || c.Project.Startup.ReadinessTimeout <= 0 {
		return DefaultReadinessTimeout
	}
	return c.Project.Startup.ReadinessTimeout
}

// IntrospectionEnabled reports whether the HTTP server should start.
func (c *Config) IntrospectionEnabled() bool {
	if c == nil || c.Project.Introspection.Enabled == nil {
		return true
	}
	return *c.Project.Introspection.Enabled
}

// IsDisabled reports whether the named plugin is excluded from discovery.
func (c *Config) IsDisabled(name string) bool {
	if c == nil {
		return false
	}
	return contains(c.Project.Plugins.Disabled, strings.TrimSpace(name))
}

// PluginSettings returns the config section for the named plugin.
func (c *Config) PluginSettings(name string) map[string]any {
	if c == nil || len(c.Project.Plugins.Config) == 0 {
		return nil
	}
	section, ok := c.Project.Plugins.Config[strings.TrimSpace(name)]
	if !ok || len(section) == 0 {
		return nil
	}
	out := make(map[string]any, len(section))
	for key, value := range section {
		out[key] = value
	}
	return out
}

// Save persists the project config back to .plugd/config.yaml.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.PlugdProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure plugd dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	parsed, err := Parse(data)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Project = parsed
	return nil
}

// Parse decodes, defaults, normalizes and validates a project config payload.
func Parse(data []byte) (ProjectConfig, error) {
	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return ProjectConfig{}, err
	}
	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return ProjectConfig{}, err
	}
	return parsed, nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = currentProjectVersion
	}
	if pc.Startup.ReadinessTimeout == 0 {
		pc.Startup.ReadinessTimeout = DefaultReadinessTimeout
	}
	if strings.TrimSpace(pc.Log.Level) == "" {
		pc.Log.Level = defaultLogLevel
	}
	if strings.TrimSpace(pc.Log.File) == "" {
		pc.Log.File = defaultLogFile
	}
	if strings.TrimSpace(pc.Introspection.Host) == "" {
		pc.Introspection.Host = defaultIntrospectHost
	}
	if pc.Introspection.Port == 0 {
		pc.Introspection.Port = defaultIntrospectPort
	}
	if strings.TrimSpace(pc.Plugins.Dir) == "" {
		pc.Plugins.Dir = defaultPluginsDir
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Log.Level = strings.ToLower(strings.TrimSpace(pc.Log.Level))
	pc.Log.File = strings.TrimSpace(pc.Log.File)
	pc.Introspection.Host = strings.TrimSpace(pc.Introspection.Host)
	pc.Plugins.Dir = strings.TrimSpace(pc.Plugins.Dir)
	disabled := make([]string, 0, len(pc.Plugins.Disabled))
	for _, name := range pc.Plugins.Disabled {
		if trimmed := strings.TrimSpace(name); trimmed != "" && !contains(disabled, trimmed) {
			disabled = append(disabled, trimmed)
		}
	}
	pc.Plugins.Disabled = disabled
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Startup.ReadinessTimeout < 0 {
		return fmt.Errorf("startup.readiness_timeout must be positive")
	}
	if pc.Startup.ReadinessTimeout > maxReadinessTimeout {
		return fmt.Errorf("startup.readiness_timeout must be <= %s", maxReadinessTimeout)
	}
	switch pc.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	if pc.Introspection.Port < 0 || pc.Introspection.Port > 65535 {
		return fmt.Errorf("introspection.port must be between 0 and 65535")
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
