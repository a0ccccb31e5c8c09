package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadProjectConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.ReadinessTimeout() != DefaultReadinessTimeout {
		t.Fatalf("expected default readiness timeout, got %s", c.ReadinessTimeout())
	}
	if !c.IntrospectionEnabled() {
		t.Fatalf("expected introspection enabled by default")
	}
	if got := c.PluginsDir(); got != filepath.Join(projectDir, PlugdDir, "plugins") {
		t.Fatalf("unexpected plugins dir %s", got)
	}
	if got := c.LogFile(); got != filepath.Join(projectDir, PlugdDir, "logs", "plugd.log") {
		t.Fatalf("unexpected log file %s", got)
	}
	if got := c.LogbookFile(); got != filepath.Join(projectDir, PlugdDir, "logs", "startup.log") {
		t.Fatalf("unexpected logbook file %s", got)
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	plugdDir := filepath.Join(projectDir, PlugdDir)
	if err := os.MkdirAll(plugdDir, 0o755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
startup:
  readiness_timeout: 750ms
log:
  level: DEBUG
  file: "-"
introspection:
  enabled: false
  port: 9999
plugins:
  dir: /opt/plugd/plugins
  disabled:
    - legacy-cache
    - " legacy-cache "
  config:
    warmup:
      keys: 42
`)
	if err := os.WriteFile(filepath.Join(plugdDir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.ReadinessTimeout() != 750*time.Millisecond {
		t.Fatalf("expected 750ms readiness timeout, got %s", c.ReadinessTimeout())
	}
	if c.Project.Log.Level != "debug" {
		t.Fatalf("expected normalized log level, got %q", c.Project.Log.Level)
	}
	if c.LogFile() != "" {
		t.Fatalf("expected file logging disabled, got %q", c.LogFile())
	}
	if c.IntrospectionEnabled() {
		t.Fatalf("expected introspection disabled")
	}
	if c.PluginsDir() != "/opt/plugd/plugins" {
		t.Fatalf("expected absolute plugins dir to be kept, got %s", c.PluginsDir())
	}
	if len(c.Project.Plugins.Disabled) != 1 || !c.IsDisabled("legacy-cache") {
		t.Fatalf("unexpected disabled list %+v", c.Project.Plugins.Disabled)
	}
	settings := c.PluginSettings("warmup")
	if settings["keys"] != 42 {
		t.Fatalf("unexpected plugin settings %+v", settings)
	}
	if c.PluginSettings("missing") != nil {
		t.Fatalf("expected nil settings for unknown plugin")
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	cases := map[string]string{
		"bad level":   "version: 1\nlog:\n  level: trace\n",
		"bad port":    "version: 1\nintrospection:\n  port: 70000\n",
		"bad timeout": "version: 1\nstartup:\n  readiness_timeout: 1h\n",
		"bad yaml":    "version: [\n",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			projectDir := t.TempDir()
			plugdDir := filepath.Join(projectDir, PlugdDir)
			if err := os.MkdirAll(plugdDir, 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(plugdDir, "config.yaml"), []byte(payload), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewConfig(projectDir); err == nil {
				t.Fatalf("expected validation error but got none")
			}
		})
	}
}

func TestInitDirWritesDefaultConfig(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitDir(projectDir); err != nil {
		t.Fatalf("InitDir: %v", err)
	}
	for _, dir := range []string{"logs", "plugins"} {
		if info, err := os.Stat(filepath.Join(projectDir, PlugdDir, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory, err=%v", dir, err)
		}
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("default config must parse: %v", err)
	}
	if c.Project.Introspection.Port != 9310 {
		t.Fatalf("unexpected default port %d", c.Project.Introspection.Port)
	}
	// a second init must not clobber edits
	c.Project.Startup.ReadinessTimeout = 2 * time.Second
	if err := c.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := InitDir(projectDir); err != nil {
		t.Fatalf("InitDir again: %v", err)
	}
	reloaded, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ReadinessTimeout() != 2*time.Second {
		t.Fatalf("expected saved timeout to survive, got %s", reloaded.ReadinessTimeout())
	}
}
