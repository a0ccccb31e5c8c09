// Package plugins loads declarative plugin definitions from a project's
// .plugd/plugins directory and registers them.
package plugins

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/kingrea/plugd/internal/config"
	"github.com/kingrea/plugd/internal/registry"
)

// LoadDefinitions returns the YAML definitions followed by the interpreted Go
// definitions found in the project's plugins directory.
func LoadDefinitions(cfg *config.Config) ([]DefinitionFile, error) {
	if cfg == nil {
		return nil, nil
	}
	dir := cfg.PluginsDir()
	yamlDefs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	goDefs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	return append(yamlDefs, goDefs...), nil
}

// RegisterDeclared discovers definitions and registers a DeclaredPlugin for
// each one not disabled in the project config. Plugins are returned in
// registration order.
func RegisterDeclared(reg *registry.Registry, cfg *config.Config) ([]*DeclaredPlugin, error) {
	if reg == nil || cfg == nil {
		return nil, nil
	}
	files, err := LoadDefinitions(cfg)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]string, len(files))
	var registered []*DeclaredPlugin
	for _, file := range files {
		def := file.Definition
		if existing, ok := seen[def.Name]; ok {
			return registered, fmt.Errorf("plugin: duplicate plugin name %s (%s and %s)", def.Name, existing, file.Path)
		}
		seen[def.Name] = file.Path
		if cfg.IsDisabled(def.Name) {
			continue
		}
		p, err := NewDeclared(def, file.Path)
		if err != nil {
			return registered, fmt.Errorf("plugin: %s: %w", file.Path, err)
		}
		if err := reg.Register(p); err != nil {
			return registered, fmt.Errorf("plugin: register %s from %s: %w", def.Name, file.Path, err)
		}
		registered = append(registered, p)
	}
	return registered, nil
}

// StopAll stops every plugin, collecting their errors.
func StopAll(ctx context.Context, declared []*DeclaredPlugin) error {
	var err error
	for i := len(declared) - 1; i >= 0; i-- {
		err = multierr.Append(err, declared[i].Stop(ctx))
	}
	return err
}
