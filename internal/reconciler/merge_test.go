package reconciler

import (
	"testing"

	"github.com/kfsoftware/asd/internal/config"
)

func TestMergeDeclaredStandaloneServiceHasNoPlugin(t *testing.T) {
	out := MergeDeclared(nil, map[string]config.ServiceDecl{
		"web": {Dial: "localhost:3000"},
	})
	if len(out) != 1 || out[0].ID != "web" || out[0].PluginName != "" {
		t.Fatalf("unexpected merge result: %+v", out)
	}
}

func TestMergeDeclaredOverlayRefinesPluginBaseRatherThanDuplicating(t *testing.T) {
	manifests := map[string]*config.PluginManifest{
		"postgres": {Name: "postgres", Services: map[string]config.ServiceDecl{
			"postgres": {Dial: "localhost:5432", Priority: 1},
		}},
	}
	userServices := map[string]config.ServiceDecl{
		"postgres": {Public: true, Subdomain: "pg"}, // overlay: no Dial
	}

	out := MergeDeclared(manifests, userServices)
	if len(out) != 1 {
		t.Fatalf("expected overlay to refine rather than duplicate, got %d entries: %+v", len(out), out)
	}
	got := out[0]
	if got.Decl.Dial != "localhost:5432" {
		t.Fatalf("expected base dial preserved, got %q", got.Decl.Dial)
	}
	if !got.Decl.Public || got.Decl.Subdomain != "pg" {
		t.Fatalf("expected overlay fields applied, got %+v", got.Decl)
	}
	if !got.Overlaid || got.PluginName != "postgres" {
		t.Fatalf("expected Overlaid=true and plugin name preserved, got %+v", got)
	}
}

func TestMergeDeclaredUserFieldWinsOverPluginBase(t *testing.T) {
	manifests := map[string]*config.PluginManifest{
		"postgres": {Name: "postgres", Services: map[string]config.ServiceDecl{
			"postgres": {Dial: "localhost:5432", Priority: 1},
		}},
	}
	userServices := map[string]config.ServiceDecl{
		"postgres": {Priority: 99},
	}

	out := MergeDeclared(manifests, userServices)
	if out[0].Decl.Priority != 99 {
		t.Fatalf("expected user overlay priority to win, got %d", out[0].Decl.Priority)
	}
}

func TestMergeDeclaredMultiplePluginsDeterministicOrder(t *testing.T) {
	manifests := map[string]*config.PluginManifest{
		"zzz": {Services: map[string]config.ServiceDecl{"a": {Dial: "localhost:1"}}},
		"aaa": {Services: map[string]config.ServiceDecl{"a": {Dial: "localhost:2"}}},
	}
	out := MergeDeclared(manifests, nil)
	if len(out) != 1 {
		t.Fatalf("expected single merged id, got %+v", out)
	}
	// "aaa" sorts before "zzz", so its definition of "a" must be the one
	// that survives the merge.
	if out[0].Decl.Dial != "localhost:2" {
		t.Fatalf("expected first plugin by sorted name to win, got %q", out[0].Decl.Dial)
	}
}
