package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderLoadProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "net.config.yaml")

	content := `
version: 1
project:
  name: demo
  plugins: [postgres]
network:
  caddy:
    tlsPolicy: auto
  services:
    web:
      dial: "localhost:3000"
      hosts: ["web.localhost"]
      public: true
tunnels:
  mode: ephemeral
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Project.Name != "demo" {
		t.Fatalf("expected project name demo, got %q", cfg.Project.Name)
	}
	svc, ok := cfg.Network.Services["web"]
	if !ok {
		t.Fatal("expected service 'web' to be present")
	}
	if svc.Dial != "localhost:3000" || !svc.Public {
		t.Fatalf("unexpected service decl: %+v", svc)
	}
}

func TestLoaderMissingFileIsConfigError(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoaderRequiresProjectName(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "net.config.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nproject:\n  domain: example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("expected error when project.name is missing")
	}
}

func TestLoaderRejectsNewerVersion(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "net.config.yaml")
	content := "version: 99\nproject:\n  name: demo\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("expected error for unsupported schema version")
	}
}

func TestLoadManifestDefaultsNameToDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	pluginDir := filepath.Join(tmpDir, "postgres")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := `
services:
  postgres:
    dial: "localhost:${{getRandomPort('pg-port')}}"
`
	if err := os.WriteFile(filepath.Join(pluginDir, ManifestFileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(pluginDir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Name != "postgres" {
		t.Fatalf("expected name to default to directory name, got %q", m.Name)
	}
	if _, ok := m.Services["postgres"]; !ok {
		t.Fatal("expected postgres service in manifest")
	}
}

func TestLoadEnabledManifestsResolvesEachPlugin(t *testing.T) {
	tmpDir := t.TempDir()
	for _, name := range []string{"postgres", "redis"} {
		dir := filepath.Join(tmpDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		content := "services:\n  " + name + ":\n    dial: \"localhost:5432\"\n"
		if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := &ProjectConfig{Project: ProjectInfo{Name: "demo", Plugins: []string{"postgres", "redis"}}}
	manifests, err := LoadEnabledManifests(tmpDir, cfg)
	if err != nil {
		t.Fatalf("LoadEnabledManifests: %v", err)
	}
	if len(manifests) != 2 {
		t.Fatalf("expected 2 manifests, got %d", len(manifests))
	}
}
