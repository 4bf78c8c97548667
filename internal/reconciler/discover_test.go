package reconciler

import (
	"net"
	"strconv"
	"testing"
)

func TestFirstPublishedPortParsesDockerPSFormat(t *testing.T) {
	got := firstPublishedPort("0.0.0.0:5432->5432/tcp, :::5432->5432/tcp")
	if got != "localhost:5432" {
		t.Fatalf("expected localhost:5432, got %q", got)
	}
}

func TestFirstPublishedPortEmptyWhenNoMapping(t *testing.T) {
	if got := firstPublishedPort(""); got != "" {
		t.Fatalf("expected empty dial for unpublished container, got %q", got)
	}
}

func TestDiscoverListeningPortsFindsOpenListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	entries := DiscoverListeningPorts([]int{port, 1}) // port 1 is reserved and should not bind
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 discovered entry, got %d: %+v", len(entries), entries)
	}
	if entries[0].Dial != "localhost:"+strconv.Itoa(port) {
		t.Fatalf("unexpected dial: %q", entries[0].Dial)
	}
}
