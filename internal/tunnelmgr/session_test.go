package tunnelmgr

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kfsoftware/asd/internal/credentials"
	"github.com/kfsoftware/asd/internal/readiness"
)

type fakePaths struct {
	dir string
}

func (p fakePaths) TunnelPIDFile(sessionID string) string {
	return filepath.Join(p.dir, sessionID+".pid")
}

func (p fakePaths) TunnelLogFile(sessionID string) string {
	return filepath.Join(p.dir, sessionID+".log")
}

func TestEnsureWithNilCredentialFailsAsCredentialMissing(t *testing.T) {
	s := New("sess-1", "svc-a", "", "app", "localhost:3000", "http", readiness.Budget{}, fakePaths{dir: t.TempDir()})

	err := s.Ensure(context.Background(), nil, "ssh")
	if err == nil {
		t.Fatal("expected error for missing credential")
	}
	if s.State() != StateFailed {
		t.Fatalf("expected StateFailed, got %v", s.State())
	}
	if s.failureKind != FailureCredentialMissing {
		t.Fatalf("expected FailureCredentialMissing, got %v", s.failureKind)
	}
}

func TestEnsureWithUnresolvableBinaryFailsAsSpawn(t *testing.T) {
	s := New("sess-2", "svc-a", "cred-1", "app", "localhost:3000", "http", readiness.Budget{}, fakePaths{dir: t.TempDir()})

	cred := &credentials.Credential{Kind: credentials.KindEphemeral, ClientID: "c1", Host: "gw.example.com", Port: 2222}
	err := s.Ensure(context.Background(), cred, "asd-nonexistent-ssh-binary-xyz")
	if err == nil {
		t.Fatal("expected error for unresolvable ssh binary")
	}
	if s.State() != StateFailed {
		t.Fatalf("expected StateFailed, got %v", s.State())
	}
	if s.failureKind != FailureSpawn {
		t.Fatalf("expected FailureSpawn, got %v", s.failureKind)
	}
}

func TestEnsureIsNoOpWhenAlreadyEstablished(t *testing.T) {
	s := New("sess-3", "svc-a", "cred-1", "app", "localhost:3000", "http", readiness.Budget{}, fakePaths{dir: t.TempDir()})
	s.setState(StateEstablished)

	// A nil credential would normally fail fast; since the session is
	// already established, Ensure must short-circuit before inspecting it.
	if err := s.Ensure(context.Background(), nil, "ssh"); err != nil {
		t.Fatalf("expected no-op for already-established session, got %v", err)
	}
	if s.State() != StateEstablished {
		t.Fatalf("expected state to remain established, got %v", s.State())
	}
}

func TestStopClearsPublicURLAndMarksStopped(t *testing.T) {
	s := New("sess-4", "svc-a", "cred-1", "app", "localhost:3000", "http", readiness.Budget{}, fakePaths{dir: t.TempDir()})
	s.mu.Lock()
	s.publicURL = "https://app-fkmc.example.tunnel"
	s.mu.Unlock()

	// No pid file exists; Stop must tolerate that (nothing to stop) while
	// still clearing session-level state.
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("expected StateStopped, got %v", s.State())
	}
	if s.PublicURL() != "" {
		t.Fatalf("expected public url cleared, got %q", s.PublicURL())
	}
}
