package localadmin

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"
)

type fakeStatusSource struct{ sessions []SessionStatus }

func (f fakeStatusSource) Sessions() []SessionStatus { return f.sessions }

func TestServeStatusHTTPHealthzEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	source := fakeStatusSource{sessions: []SessionStatus{{ID: "tunnel-web", ServiceID: "web", State: "established"}}}
	go ServeStatusHTTP(ln, source)
	defer ln.Close()

	waitForServer(t, ln.Addr().String())

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDialTapStreamsSnapshots(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	source := fakeStatusSource{sessions: []SessionStatus{{ID: "tunnel-web", ServiceID: "web", State: "established"}}}
	go ServeStatusHTTP(ln, source)
	defer ln.Close()

	waitForServer(t, ln.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got := make(chan map[string]interface{}, 1)
	go DialTap(ctx, "tcp", ln.Addr().String(), func(snapshot map[string]interface{}) {
		select {
		case got <- snapshot:
		default:
		}
	})

	select {
	case snapshot := <-got:
		if snapshot["sessions"] == nil {
			t.Fatalf("expected a sessions key in the tap snapshot, got %+v", snapshot)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for a tap snapshot")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never came up", addr)
}
