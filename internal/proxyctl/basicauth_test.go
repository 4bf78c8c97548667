package proxyctl

import (
	"context"
	"strings"
	"testing"
)

func TestApplyBasicAuthNoneWhenCredentialsMissing(t *testing.T) {
	required, hash, _, err := ApplyBasicAuth(context.Background(), BasicAuthInput{}, true)
	if err != nil {
		t.Fatalf("ApplyBasicAuth: %v", err)
	}
	if required || hash != "" {
		t.Fatalf("expected no auth required without credentials, got required=%v hash=%q", required, hash)
	}
}

func TestApplyBasicAuthHashesPasswordNeverReturnsPlaintext(t *testing.T) {
	in := BasicAuthInput{Username: "admin", Password: "s3cret!", Realm: "asd"}
	required, hash, realm, err := ApplyBasicAuth(context.Background(), in, true)
	if err != nil {
		t.Fatalf("ApplyBasicAuth: %v", err)
	}
	if !required {
		t.Fatal("expected auth to be required")
	}
	if strings.Contains(hash, "s3cret!") {
		t.Fatalf("hash must never contain the plaintext password: %q", hash)
	}
	if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
		t.Fatalf("expected a bcrypt hash, got %q", hash)
	}
	if realm != "asd" {
		t.Fatalf("expected realm asd, got %q", realm)
	}
}

func TestApplyBasicAuthRestrictsToHostRoutesOnly(t *testing.T) {
	in := BasicAuthInput{Username: "admin", Password: "s3cret!", ServiceMode: "override", OverrideRoutes: []string{"host"}}

	required, _, _, err := ApplyBasicAuth(context.Background(), in, true)
	if err != nil {
		t.Fatal(err)
	}
	if !required {
		t.Fatal("expected auth required on host route")
	}

	required, _, _, err = ApplyBasicAuth(context.Background(), in, false)
	if err != nil {
		t.Fatal(err)
	}
	if required {
		t.Fatal("expected auth not required on path route when scope is host-only")
	}
}

func TestApplyBasicAuthServiceDisabledOverride(t *testing.T) {
	in := BasicAuthInput{Username: "admin", Password: "s3cret!", ServiceMode: "disabled"}
	required, _, _, err := ApplyBasicAuth(context.Background(), in, true)
	if err != nil {
		t.Fatal(err)
	}
	if required {
		t.Fatal("expected disabled override to suppress auth")
	}
}
