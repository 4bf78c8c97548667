package expander

import (
	"strings"
	"testing"
)

func envMap(m map[string]string) EnvLookup {
	return func(name string) string { return m[name] }
}

func TestEnvLookup(t *testing.T) {
	ec := Context{Env: envMap(map[string]string{"FOO": "bar"})}
	if got := Expand(ec, "${{ env.FOO }}"); got != "bar" {
		t.Fatalf("got %q", got)
	}
	if got := Expand(ec, "${FOO}"); got != "bar" {
		t.Fatalf("legacy form: got %q", got)
	}
}

func TestNegatedEnvLookup(t *testing.T) {
	ec := Context{Env: envMap(map[string]string{"SET": "1"})}
	if got := Expand(ec, "${{ !env.SET }}"); got != "" {
		t.Fatalf("expected empty for set var, got %q", got)
	}
	if got := Expand(ec, "${{ !env.UNSET }}"); got != "true" {
		t.Fatalf("expected true for unset var, got %q", got)
	}
}

func TestUnresolvedTunnelMacroEvaluatesToEmptyNeverThrows(t *testing.T) {
	ec := Context{Env: envMap(nil)}
	got := Expand(ec, "${{ macro.tunnelHost(myapp) }}")
	if got != "" {
		t.Fatalf("expected empty string without a credential, got %q", got)
	}
}

func TestGetRandomPortIdempotentWithinScope(t *testing.T) {
	scope := NewPortScope()
	ec := Context{Env: envMap(nil), Scope: scope}

	first := Expand(ec, `${{ macro.getRandomPort(name=A, scope=s1) }}`)
	second := Expand(ec, `${{ macro.getRandomPort(name=A, scope=s1) }}`)
	if first == "" || first != second {
		t.Fatalf("expected stable allocation for same name, got %q then %q", first, second)
	}
}

func TestGetRandomPortsDistinctWithinScope(t *testing.T) {
	scope := NewPortScope()
	ec := Context{Env: envMap(nil), Scope: scope}

	a := Expand(ec, `${{ macro.getRandomPort(name=A, scope=s1) }}`)
	b := Expand(ec, `${{ macro.getRandomPort(name=B, scope=s1) }}`)
	c := Expand(ec, `${{ macro.getRandomPort(name=C, scope=s1) }}`)
	seen := map[string]bool{a: true, b: true, c: true}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct ports, got a=%s b=%s c=%s", a, b, c)
	}
}

func TestExposedOriginUsesEnclosingSubdomain(t *testing.T) {
	ec := Context{
		Env:              envMap(nil),
		ServiceSubdomain: "myapp",
		Credential:       &CredentialInfo{ClientID: "fkmc", Host: "cicd.eu1.asd.engineer"},
	}
	got := Expand(ec, "${{ macro.exposedOrigin() }}")
	want := "https://myapp-fkmc.cicd.eu1.asd.engineer"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestExposedOriginWithExplicitPrefix(t *testing.T) {
	ec := Context{
		Env:        envMap(nil),
		Credential: &CredentialInfo{ClientID: "fkmc", Host: "cicd.eu1.asd.engineer"},
	}
	got := Expand(ec, `${{ macro.exposedOrigin(app) }}`)
	want := "https://app-fkmc.cicd.eu1.asd.engineer"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestGetRandomStringUsesRequestedLength(t *testing.T) {
	got := Expand(Context{Env: envMap(nil)}, `${{ macro.getRandomString(length=24) }}`)
	if len(got) != 24 {
		t.Fatalf("expected length 24, got %d (%q)", len(got), got)
	}
}

func TestBcryptProducesNonPlaintextHash(t *testing.T) {
	got := Expand(Context{Env: envMap(nil)}, `${{ macro.bcrypt(password="s3cr3t") }}`)
	if got == "" || strings.Contains(got, "s3cr3t") {
		t.Fatalf("expected a bcrypt hash that doesn't contain the plaintext, got %q", got)
	}
	if !strings.HasPrefix(got, "$2") {
		t.Fatalf("expected a bcrypt-formatted hash, got %q", got)
	}
}

func TestUnknownMacroIsDiagnosticNotSilent(t *testing.T) {
	// Unknown macros still resolve to "" (never throw) but the expander
	// logs a diagnostic rather than silently accepting the tag (spec §9).
	got := Expand(Context{Env: envMap(nil)}, `${{ macro.doesNotExist() }}`)
	if got != "" {
		t.Fatalf("expected empty string for unknown macro, got %q", got)
	}
}
