package localadmin

import (
	"net"
	"testing"
	"time"

	"github.com/kfsoftware/asd/internal/wire"
)

func TestClientCallRoundTripsThroughServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	srv := NewServer(ln)
	srv.Handle(wire.KindHealthPing, func(req wire.Envelope) (wire.Envelope, error) {
		var ping wire.HealthPing
		if err := wire.Decode(req, &ping); err != nil {
			return wire.Envelope{}, err
		}
		return wire.Encode(wire.KindHealthPong, wire.HealthPong{Nonce: ping.Nonce})
	})
	go srv.Serve()
	defer srv.Close()

	client, err := Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var pong wire.HealthPong
	if err := client.Call(wire.KindHealthPing, wire.HealthPing{Nonce: 7}, &pong); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if pong.Nonce != 7 {
		t.Fatalf("expected nonce 7 echoed back, got %d", pong.Nonce)
	}
}

func TestClientCallSurfacesUnknownKindAsError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	srv := NewServer(ln)
	go srv.Serve()
	defer srv.Close()

	client, err := Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	err = client.Call(wire.KindStatusQuery, wire.StatusQuery{SessionID: "x"}, &wire.StatusReply{})
	if err == nil {
		t.Fatalf("expected an error for an unregistered handler")
	}
}

func TestMultipleCallsShareOneSession(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	srv := NewServer(ln)
	srv.Handle(wire.KindHealthPing, func(req wire.Envelope) (wire.Envelope, error) {
		return wire.Encode(wire.KindHealthPong, wire.HealthPong{})
	})
	go srv.Serve()
	defer srv.Close()

	client, err := Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	for i := 0; i < 5; i++ {
		if err := client.Call(wire.KindHealthPing, wire.HealthPing{}, &wire.HealthPong{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	time.Sleep(10 * time.Millisecond) // let server-side goroutines settle before Close
}
