// Package localadmin is the multiplexed control-plane between the CLI
// process and the long-lived companion daemons it supervises (the
// reverse-proxy controller, tunnel-session helpers): one transport
// connection per companion, many logical request/reply streams,
// grounded in the teacher's use of hashicorp/yamux for its public
// tunnel multiplexing (pkg/tunnel/tunnel.go), repurposed here for local
// calls the HTTP admin API doesn't cover (spec §11.1).
package localadmin

import (
	"fmt"
	"net"
	"sync"

	"github.com/hashicorp/yamux"
	log "github.com/schollz/logger"

	"github.com/kfsoftware/asd/internal/wire"
)

// Handler answers one request envelope with a reply envelope.
type Handler func(req wire.Envelope) (wire.Envelope, error)

// Server accepts companion connections on a listener (a Unix domain
// socket on Unix, a loopback TCP port on Windows — see
// paths.Resolver.AdminSocketPath) and dispatches
// each request stream to a registered Handler by Kind.
type Server struct {
	listener net.Listener

	mu       sync.RWMutex
	handlers map[wire.Kind]Handler
}

func NewServer(listener net.Listener) *Server {
	return &Server{listener: listener, handlers: map[wire.Kind]Handler{}}
}

// Handle registers fn for kind, replacing any previous handler.
func (s *Server) Handle(kind wire.Kind, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = fn
}

// Serve accepts connections until the listener is closed, multiplexing
// each one with yamux and handling every resulting stream as one
// request/reply call.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	sess, err := yamux.Server(conn, nil)
	if err != nil {
		log.Warnf("localadmin: yamux handshake failed: %v", err)
		conn.Close()
		return
	}
	for {
		stream, err := sess.Accept()
		if err != nil {
			log.Debugf("localadmin: session closed: %v", err)
			return
		}
		go s.serveStream(stream)
	}
}

func (s *Server) serveStream(stream net.Conn) {
	defer stream.Close()

	req, err := wire.ReadMsg(stream)
	if err != nil {
		log.Debugf("localadmin: read request: %v", err)
		return
	}

	s.mu.RLock()
	fn, ok := s.handlers[req.Kind]
	s.mu.RUnlock()
	if !ok {
		reply, _ := wire.Encode(wire.KindError, wire.ErrorReply{Message: fmt.Sprintf("no handler for %s", req.Kind)})
		_ = wire.WriteMsg(stream, reply)
		return
	}

	reply, err := fn(req)
	if err != nil {
		reply, _ = wire.Encode(wire.KindError, wire.ErrorReply{Message: err.Error()})
	}
	if err := wire.WriteMsg(stream, reply); err != nil {
		log.Debugf("localadmin: write reply: %v", err)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}
