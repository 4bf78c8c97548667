package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kfsoftware/asd/internal/asderrors"
)

// MaxVersion is the newest project-config schema version this build
// understands. Unlike the registry (internal/registry), the project
// config is user-authored and hand-edited rather than migrated in
// place; a version beyond MaxVersion is a configuration error, not a
// migration opportunity.
const MaxVersion = 1

// Loader reads and parses a project's net.config.yaml.
type Loader struct {
	filePath string
}

func NewLoader(filePath string) *Loader {
	return &Loader{filePath: filePath}
}

// Load reads and parses the project configuration file. A missing or
// unparseable file, or an unsupported schema version, is a Configuration
// error per spec §7 — surfaced immediately so reconcile never starts
// against a file it misunderstood.
func (l *Loader) Load() (*ProjectConfig, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, asderrors.Wrapf(asderrors.KindConfig, "", err, "read project config %s", l.filePath)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, asderrors.Wrapf(asderrors.KindConfig, "", err, "parse project config %s", l.filePath)
	}
	if cfg.Version > MaxVersion {
		return nil, asderrors.New(asderrors.KindConfig, "", fmt.Errorf(
			"project config %s declares version %d, newer than this build supports (%d)",
			l.filePath, cfg.Version, MaxVersion))
	}
	if cfg.Project.Name == "" {
		return nil, asderrors.New(asderrors.KindConfig, "", fmt.Errorf("project config %s: project.name is required", l.filePath))
	}
	return &cfg, nil
}

// Save writes cfg back to filePath as YAML, for `expose`'s declarative
// write-back into the project config (spec §6 "project configuration
// YAML" is the authoritative source; `expose` amends it rather than
// mutating the registry directly, so a later `net apply` rediscovers the
// same declaration after the registry is reset).
func (l *Loader) Save(cfg *ProjectConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.filePath), 0o755); err != nil {
		return err
	}
	tmp := l.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.filePath)
}

// ManifestFileName is the fixed file name the reconciler looks for under
// each enabled plugin module directory (spec §6).
const ManifestFileName = "net.manifest.yaml"

// LoadManifest reads a single plugin's net.manifest.yaml from the given
// plugin module directory.
func LoadManifest(pluginDir string) (*PluginManifest, error) {
	path := filepath.Join(pluginDir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, asderrors.Wrapf(asderrors.KindConfig, "", err, "read plugin manifest %s", path)
	}
	var m PluginManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, asderrors.Wrapf(asderrors.KindConfig, "", err, "parse plugin manifest %s", path)
	}
	if m.Name == "" {
		m.Name = filepath.Base(pluginDir)
	}
	return &m, nil
}

// LoadEnabledManifests resolves and loads the manifest for every plugin
// named in cfg.Project.Plugins, looking for a directory of the same name
// under pluginsRoot.
func LoadEnabledManifests(pluginsRoot string, cfg *ProjectConfig) (map[string]*PluginManifest, error) {
	manifests := make(map[string]*PluginManifest, len(cfg.Project.Plugins))
	for _, name := range cfg.Project.Plugins {
		dir := filepath.Join(pluginsRoot, name)
		m, err := LoadManifest(dir)
		if err != nil {
			return nil, err
		}
		manifests[name] = m
	}
	return manifests, nil
}
