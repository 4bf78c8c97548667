package credentials

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateEphemeralDecodesBootstrapResponse(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(bootstrapResponse{
			TunnelClientID:     "client-123",
			TunnelClientSecret: "secret-456",
			ExpiresAt:          &expires,
			TunnelHost:         "gw.example.test",
			TunnelPort:         2222,
			Limits:             &Limits{MaxConnections: 5},
		})
	}))
	defer srv.Close()

	cred, err := GenerateEphemeral(nil, srv.URL, "auto-bootstrap")
	if err != nil {
		t.Fatalf("GenerateEphemeral: %v", err)
	}
	if cred.Name != "auto-bootstrap" || cred.Kind != KindEphemeral {
		t.Fatalf("unexpected name/kind: %+v", cred)
	}
	if cred.ClientID != "client-123" || cred.SecretOrKeyRef != "secret-456" {
		t.Fatalf("unexpected client credentials: %+v", cred)
	}
	if cred.Host != "gw.example.test" || cred.Port != 2222 {
		t.Fatalf("unexpected endpoint: %+v", cred)
	}
	if cred.Limits == nil || cred.Limits.MaxConnections != 5 {
		t.Fatalf("unexpected limits: %+v", cred.Limits)
	}
	if cred.ExpiresAt == nil || !cred.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected expiry: %+v", cred.ExpiresAt)
	}
}

func TestGenerateEphemeralErrorsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := GenerateEphemeral(nil, srv.URL, "auto-bootstrap"); err == nil {
		t.Fatal("expected error on non-2xx bootstrap response")
	}
}
