package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestUpsertAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "registry.json"))

	e := Entry{ID: "svc-web", Dial: "localhost:3000", Hosts: []string{"web.localhost"}}
	if err := r.Upsert(e); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	entries, err := r.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.ID != e.ID || got.Dial != e.Dial || got.Rev != 1 {
		t.Fatalf("unexpected round trip: %+v", got)
	}
}

func TestUpsertReplacesExistingByID(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "registry.json"))

	if err := r.Upsert(Entry{ID: "svc-web", Dial: "localhost:3000"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(Entry{ID: "svc-web", Dial: "localhost:4000"}); err != nil {
		t.Fatal(err)
	}

	entries, err := r.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected replace not append, got %d entries", len(entries))
	}
	if entries[0].Dial != "localhost:4000" || entries[0].Rev != 2 {
		t.Fatalf("unexpected entry after replace: %+v", entries[0])
	}
}

func TestRemoveDeletesEntry(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "registry.json"))

	if err := r.Upsert(Entry{ID: "svc-a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(Entry{ID: "svc-b"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("svc-a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	entries, err := r.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "svc-b" {
		t.Fatalf("expected only svc-b left, got %+v", entries)
	}
}

func TestMarkHealthUpdatesResultAndTimestamp(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "registry.json"))

	if err := r.Upsert(Entry{ID: "svc-a"}); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := r.MarkHealth("svc-a", HealthOK, now); err != nil {
		t.Fatalf("MarkHealth: %v", err)
	}

	entries, err := r.Load()
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].LastHealthResult != HealthOK {
		t.Fatalf("expected HealthOK, got %v", entries[0].LastHealthResult)
	}
	if entries[0].LastHealthAt == nil || !entries[0].LastHealthAt.Equal(now) {
		t.Fatalf("expected health timestamp %v, got %v", now, entries[0].LastHealthAt)
	}
}

func TestMarkHealthUnknownEntryErrors(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "registry.json"))
	if err := r.MarkHealth("missing", HealthOK, time.Now()); err == nil {
		t.Fatal("expected error marking health on unknown entry")
	}
}

func TestSetTunnelSetsAndClearsURL(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "registry.json"))

	if err := r.Upsert(Entry{ID: "svc-a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.SetTunnel("svc-a", "https://svc-a.example.tunnel"); err != nil {
		t.Fatalf("SetTunnel: %v", err)
	}
	entries, err := r.Load()
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].TunnelURL != "https://svc-a.example.tunnel" {
		t.Fatalf("expected tunnel url set, got %q", entries[0].TunnelURL)
	}

	if err := r.SetTunnel("svc-a", ""); err != nil {
		t.Fatalf("SetTunnel clear: %v", err)
	}
	entries, err = r.Load()
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].TunnelURL != "" {
		t.Fatalf("expected tunnel url cleared, got %q", entries[0].TunnelURL)
	}
}

func TestListFiltersEntries(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "registry.json"))

	if err := r.Upsert(Entry{ID: "svc-a", Public: true}); err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(Entry{ID: "svc-b", Public: false}); err != nil {
		t.Fatal(err)
	}

	public, err := r.List(func(e Entry) bool { return e.Public })
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(public) != 1 || public[0].ID != "svc-a" {
		t.Fatalf("expected only svc-a, got %+v", public)
	}
}

func TestLoadRejectsNewerSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	r := New(path)
	if err := r.Upsert(Entry{ID: "svc-a"}); err != nil {
		t.Fatal(err)
	}

	// Simulate a future build's schema by writing a version beyond what
	// this build understands, bypassing the version-stamping Upsert path.
	doc := document{Version: CurrentVersion + 1, Entries: []Entry{{ID: "svc-a"}}}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Load(); err == nil {
		t.Fatal("expected error loading a newer schema version")
	}
}

func TestConcurrentUpsertsAllPersist(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "registry.json"))

	var wg sync.WaitGroup
	ids := []string{"svc-a", "svc-b", "svc-c", "svc-d"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.Upsert(Entry{ID: id}); err != nil {
				t.Errorf("Upsert(%s): %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	entries, err := r.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(ids) {
		t.Fatalf("expected %d entries after concurrent upserts, got %d", len(ids), len(entries))
	}
}
