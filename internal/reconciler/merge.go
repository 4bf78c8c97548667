// Package reconciler orchestrates a single reconcile pass: load config
// and manifests, merge the declared set, probe discovered services,
// upsert the registry, diff and apply proxy routes, write env, and run a
// readiness sweep (spec §4.9).
package reconciler

import (
	"sort"

	"github.com/kfsoftware/asd/internal/config"
)

// Declared is one merged ServiceDeclaration ready for expansion, keyed
// by id. It tracks whether it came from a plugin (and which one) so the
// reconciler can report which overlay, if any, refined it.
type Declared struct {
	ID         string
	Decl       config.ServiceDecl
	PluginName string // "" for a standalone user declaration
	Overlaid   bool
}

// MergeDeclared produces the declared set per spec §4.9 step 2: plugin
// base definitions (keyed by id), overlays from user config (merging
// field-by-field, user overlay wins), and standalone user services.
func MergeDeclared(manifests map[string]*config.PluginManifest, userServices map[string]config.ServiceDecl) []Declared {
	byID := make(map[string]*Declared)

	// Plugin names are sorted so that merge order — and therefore which
	// plugin "wins" in the pathological case of two plugins declaring the
	// same id — is deterministic across runs.
	pluginNames := make([]string, 0, len(manifests))
	for name := range manifests {
		pluginNames = append(pluginNames, name)
	}
	sort.Strings(pluginNames)

	for _, name := range pluginNames {
		m := manifests[name]
		for id, decl := range m.Services {
			if _, exists := byID[id]; exists {
				// Two plugins declaring the same id is a misconfiguration
				// the spec leaves unspecified; the first plugin in sorted
				// order wins so the outcome is at least deterministic.
				continue
			}
			byID[id] = &Declared{ID: id, Decl: decl, PluginName: name}
		}
	}

	ids := make([]string, 0, len(userServices))
	for id := range userServices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		overlay := userServices[id]
		if base, ok := byID[id]; ok {
			// An overlay with no Dial refines the plugin-provided service
			// of the same id rather than creating a duplicate (spec §3).
			base.Decl = mergeOverlay(base.Decl, overlay)
			base.Overlaid = true
			continue
		}
		byID[id] = &Declared{ID: id, Decl: overlay}
	}

	out := make([]Declared, 0, len(byID))
	for _, d := range byID {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// mergeOverlay merges overlay onto base field-by-field; a zero-valued
// overlay field leaves the base's value untouched, and a non-zero
// overlay field wins (spec §4.9 step 2).
func mergeOverlay(base, overlay config.ServiceDecl) config.ServiceDecl {
	merged := base
	if overlay.Dial != "" {
		merged.Dial = overlay.Dial
	}
	if len(overlay.Hosts) > 0 {
		merged.Hosts = overlay.Hosts
	}
	if len(overlay.Paths) > 0 {
		merged.Paths = overlay.Paths
	}
	if overlay.Public {
		merged.Public = true
	}
	if overlay.Direct {
		merged.Direct = true
	}
	if overlay.Subdomain != "" {
		merged.Subdomain = overlay.Subdomain
	}
	if overlay.TunnelProtocol != "" {
		merged.TunnelProtocol = overlay.TunnelProtocol
	}
	if overlay.Priority != 0 {
		merged.Priority = overlay.Priority
	}
	if overlay.BasicAuth != nil {
		merged.BasicAuth = overlay.BasicAuth
	}
	if overlay.SecurityHeaders != nil {
		merged.SecurityHeaders = overlay.SecurityHeaders
	}
	if overlay.IframeOrigin != "" {
		merged.IframeOrigin = overlay.IframeOrigin
	}
	if len(overlay.DeleteResponseHeaders) > 0 {
		merged.DeleteResponseHeaders = overlay.DeleteResponseHeaders
	}
	if overlay.IngressTag != "" {
		merged.IngressTag = overlay.IngressTag
	}
	if len(overlay.Env) > 0 {
		merged.Env = mergeEnv(base.Env, overlay.Env)
	}
	if overlay.HealthCheck != nil {
		merged.HealthCheck = overlay.HealthCheck
	}
	return merged
}

func mergeEnv(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
