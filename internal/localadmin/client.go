package localadmin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"

	"github.com/kfsoftware/asd/internal/wire"
)

// Client dials a companion's control socket once and multiplexes every
// subsequent Call over that one connection, matching the teacher's
// setupInitialConn-then-reuse shape in cmd/client/client.go, generalized
// from "one long-lived forwarding stream" to "one stream per call".
type Client struct {
	mu   sync.Mutex
	sess *yamux.Session
	dial func() (net.Conn, error)
}

// Dial connects to addr (a "unix" or "tcp" network per runtime.GOOS) and
// establishes the yamux session used for every subsequent Call.
func Dial(network, addr string) (*Client, error) {
	c := &Client{dial: func() (net.Conn, error) { return net.DialTimeout(network, addr, 5*time.Second) }}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("localadmin: dial companion: %w", err)
	}
	sess, err := yamux.Client(conn, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("localadmin: yamux handshake: %w", err)
	}
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
	return nil
}

// Call opens one multiplexed stream, sends a request envelope of kind
// carrying payload, and decodes the reply into replyOut. One stream per
// call means a slow or stuck call never blocks any other.
func (c *Client) Call(kind wire.Kind, payload interface{}, replyOut interface{}) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil || sess.IsClosed() {
		if err := c.connect(); err != nil {
			return err
		}
		c.mu.Lock()
		sess = c.sess
		c.mu.Unlock()
	}

	stream, err := sess.Open()
	if err != nil {
		return fmt.Errorf("localadmin: open stream: %w", err)
	}
	defer stream.Close()

	req, err := wire.Encode(kind, payload)
	if err != nil {
		return err
	}
	if err := wire.WriteMsg(stream, req); err != nil {
		return fmt.Errorf("localadmin: write request: %w", err)
	}

	reply, err := wire.ReadMsg(stream)
	if err != nil {
		return fmt.Errorf("localadmin: read reply: %w", err)
	}
	if reply.Kind == wire.KindError {
		var errReply wire.ErrorReply
		if decodeErr := wire.Decode(reply, &errReply); decodeErr == nil {
			return fmt.Errorf("localadmin: companion error: %s", errReply.Message)
		}
		return fmt.Errorf("localadmin: companion returned an error reply")
	}
	if replyOut == nil {
		return nil
	}
	return wire.Decode(reply, replyOut)
}

// DialTap opens the status surface's /tap websocket over the network/addr
// the status surface listens on (a Unix domain socket in production,
// separate from the control-plane's socket) and invokes onSnapshot for
// every pushed session snapshot
// until ctx is cancelled or the connection drops.
func DialTap(ctx context.Context, network, addr string, onSnapshot func(map[string]interface{})) error {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return net.DialTimeout(network, addr, 5*time.Second)
		},
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, "ws://localadmin/tap", http.Header{})
	if err != nil {
		return fmt.Errorf("localadmin: dial tap: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var snapshot map[string]interface{}
		if err := conn.ReadJSON(&snapshot); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("localadmin: read tap snapshot: %w", err)
		}
		onSnapshot(snapshot)
	}
}

// Close tears down the underlying session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.Close()
}
