package plugins

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleDefinition = `name: api
description: Public API gateway
after:
  - decl/db
kind: http
http:
  url: http://127.0.0.1:8080/health
  interval: 100ms
config:
  replicas: 2
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.Name != "api" || def.Identity != "decl/api" {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if def.Kind != KindHTTP || def.HTTP.Interval != 100*time.Millisecond {
		t.Fatalf("unexpected http spec: %+v", def.HTTP)
	}
	if len(def.After) != 1 || def.After[0] != "decl/db" {
		t.Fatalf("unexpected after: %v", def.After)
	}
	if def.Config["replicas"] != 2 {
		t.Fatalf("unexpected config: %v", def.Config)
	}
}

func TestParseDefinitionYAMLErrors(t *testing.T) {
	if _, err := ParseDefinitionYAML([]byte("")); err == nil {
		t.Fatalf("expected empty payload to fail validation")
	}
	if _, err := ParseDefinitionYAML([]byte("name: x\nkind: noop\nunknown: 1\n")); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	if _, err := ParseDefinitionYAML([]byte("kind: noop\n")); err == nil {
		t.Fatalf("expected missing name to fail validation")
	}
}

func TestLoadDefinitionDir(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "api.yaml")
	if err := os.WriteFile(path, []byte(sampleDefinition), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	defs, err := LoadDefinitionDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Path != path {
		t.Fatalf("expected path %s, got %s", path, defs[0].Path)
	}
	if defs[0].Definition.Name != "api" {
		t.Fatalf("unexpected name: %+v", defs[0].Definition)
	}
}

func TestLoadDefinitionDirReportsBadFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "bad.yml"), []byte("name: x\nkind: teleport\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadDefinitionDir(root); err == nil {
		t.Fatalf("expected invalid definition to fail")
	}
}

func TestLoadDefinitionDirMissing(t *testing.T) {
	defs, err := LoadDefinitionDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if defs != nil {
		t.Fatalf("expected nil slice for missing dir, got %v", defs)
	}
}
