package proxyctl

import "testing"

func TestExpandHostsDropsEmptyStrings(t *testing.T) {
	got := ExpandHosts([]string{"web.localhost", "", "app-fkmc.example.tunnel"})
	if len(got) != 2 {
		t.Fatalf("expected 2 hosts after filtering, got %v", got)
	}
}

func TestDiffDetectsNewChangedAndRemoved(t *testing.T) {
	live := []Route{
		{Host: "web.localhost", Dial: "localhost:3000"},
		{Host: "old.localhost", Dial: "localhost:9999"},
	}
	desired := []Route{
		{Host: "web.localhost", Dial: "localhost:4000"}, // changed
		{Host: "new.localhost", Dial: "localhost:5000"}, // new
	}

	upsert, remove := Diff(desired, live)
	if len(upsert) != 2 {
		t.Fatalf("expected 2 routes to upsert, got %d: %+v", len(upsert), upsert)
	}
	if len(remove) != 1 || remove[0].Host != "old.localhost" {
		t.Fatalf("expected old.localhost to be removed, got %+v", remove)
	}
}

func TestDiffIsEmptyWhenNothingChanged(t *testing.T) {
	routes := []Route{{Host: "web.localhost", Dial: "localhost:3000", Priority: 1}}
	upsert, remove := Diff(routes, routes)
	if len(upsert) != 0 || len(remove) != 0 {
		t.Fatalf("expected no-op diff, got upsert=%+v remove=%+v", upsert, remove)
	}
}

func TestDiffMatchesOnHostPathPrefixAndPriority(t *testing.T) {
	live := []Route{{Host: "web.localhost", PathPrefix: "/api", Priority: 5, Dial: "localhost:3000"}}
	desired := []Route{{Host: "web.localhost", PathPrefix: "/api", Priority: 1, Dial: "localhost:3000"}}

	upsert, remove := Diff(desired, live)
	if len(upsert) != 1 {
		t.Fatalf("expected the differing priority to count as a distinct route needing upsert, got %+v", upsert)
	}
	if len(remove) != 1 {
		t.Fatalf("expected the old priority key to be removed, got %+v", remove)
	}
}
