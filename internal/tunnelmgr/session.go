// Package tunnelmgr supervises one SSH reverse-forwarding session per
// exposed service: construction of the ssh argv, spawn through the
// process supervisor, capture of the server-assigned public URL from
// the session transcript, and bounded reconnect-with-backoff on
// transport failure (spec §4.5). Grounded in the teacher's client
// reconnect loop (cmd/client/client.go's run()), generalized from a
// fixed yamux dial loop to the supervisor's daemon contract.
package tunnelmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kfsoftware/asd/internal/asderrors"
	"github.com/kfsoftware/asd/internal/credentials"
	"github.com/kfsoftware/asd/internal/readiness"
	"github.com/kfsoftware/asd/internal/supervisor"
)

// State is the TunnelSession lifecycle state (spec §3).
type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateEstablished State = "established"
	StateDegraded    State = "degraded"
	StateFailed      State = "failed"
	StateStopped     State = "stopped"
)

// FailureKind distinguishes why a session ended in StateFailed, per the
// failure-semantics table in spec §4.5.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureCredentialMissing FailureKind = "credential-missing"
	FailureSpawn             FailureKind = "spawn"
	FailureCrash             FailureKind = "crash"
)

const (
	minBackoff = 2 * time.Second
	maxBackoff = time.Minute
)

// Session is one TunnelSession (spec §3): the process-group-owning SSH
// client for a single declared service, plus the state machine around
// it.
type Session struct {
	ID               string
	ServiceID        string
	CredentialRef    string
	DesiredSubdomain string
	LocalDial        string
	TunnelProtocol   string // "http" | "tcp"

	Budget readiness.Budget

	mu             sync.Mutex
	state          State
	failureKind    FailureKind
	publicURL      string
	pid            int
	startedAt      time.Time
	reconnectCount int
	supervising    bool

	paths   Paths
	History Recorder
}

// Paths is the subset of the paths resolver a session needs: where to
// put its PID file and log file.
type Paths interface {
	TunnelPIDFile(sessionID string) string
	TunnelLogFile(sessionID string) string
}

// Recorder is the subset of history.Ledger a session needs: append one
// state-transition row to the local audit ledger (SPEC_FULL §12 item 1).
// Declared here rather than imported from internal/history so tunnelmgr
// does not need to depend on the storage package; History is nil-safe and
// optional.
type Recorder interface {
	Record(sessionID, serviceID, from, to, publicURL string, at time.Time, metadata map[string]string) error
}

func New(id, serviceID, credentialRef, subdomain, localDial, tunnelProtocol string, budget readiness.Budget, paths Paths) *Session {
	if tunnelProtocol == "" {
		tunnelProtocol = "http"
	}
	return &Session{
		ID:               id,
		ServiceID:        serviceID,
		CredentialRef:    credentialRef,
		DesiredSubdomain: subdomain,
		LocalDial:        localDial,
		TunnelProtocol:   tunnelProtocol,
		Budget:           budget,
		state:            StateIdle,
		paths:            paths,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) PublicURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publicURL
}

// setState transitions to st, clearing publicURL unless st is
// StateEstablished (spec §8: "publicUrl is non-empty iff
// state==established" — a transition away from established clears it
// before any next connect attempt can populate it again).
func (s *Session) setState(st State) {
	s.mu.Lock()
	from := s.state
	s.state = st
	if st != StateEstablished {
		s.publicURL = ""
	}
	publicURL := s.publicURL
	s.mu.Unlock()
	s.recordTransition(from, st, publicURL)
}

// recordTransition appends a row to the audit ledger when History is set
// and the state actually changed; a record failure is logged, never
// surfaced, since the ledger is read-only diagnostic history, not part of
// any reconcile invariant.
func (s *Session) recordTransition(from, to State, publicURL string) {
	if s.History == nil || from == to {
		return
	}
	metadata := map[string]string{"localDial": s.LocalDial, "tunnelProtocol": s.TunnelProtocol}
	if err := s.History.Record(s.ID, s.ServiceID, string(from), string(to), publicURL, time.Now(), metadata); err != nil {
		log.Warn().Err(err).Str("session", s.ID).Msg("failed to record tunnel session transition")
	}
}

// Ensure starts the session if it is not already established or
// connecting, per the tunnel-session-manager contract in spec §4.5:
// build argv, spawn through the supervisor as a daemon, wait for the
// server-assigned URL via log-regex readiness, and record it. On
// credential-missing or spawn failure the session is marked failed and
// not retried by Ensure itself; reconnect-with-backoff is driven by Run
// for a session that has already started.
func (s *Session) Ensure(ctx context.Context, cred *credentials.Credential, sshBinary string) error {
	st := s.State()
	if st == StateEstablished || st == StateConnecting {
		return nil
	}
	if cred == nil {
		s.mu.Lock()
		from := s.state
		s.state = StateFailed
		s.failureKind = FailureCredentialMissing
		s.publicURL = ""
		s.mu.Unlock()
		s.recordTransition(from, StateFailed, "")
		return asderrors.New(asderrors.KindConfig, s.ServiceID, fmt.Errorf("no credential available for tunnel session %s", s.ID))
	}

	argv := BuildSSHArgs(SSHArgsInput{
		Credential: *cred,
		Subdomain:  s.DesiredSubdomain,
		LocalDial:  s.LocalDial,
		Protocol:   s.TunnelProtocol,
	})

	s.setState(StateConnecting)

	var capturedURL string
	spec := DaemonSpecFor(s, sshBinary, argv, cred, &capturedURL)
	result, err := supervisor.Start(ctx, spec)
	if err != nil {
		alive := result.PID != 0 && supervisor.IsAlive(result.PID)
		s.mu.Lock()
		from := s.state
		s.pid = result.PID
		var to State
		if result.PID == 0 {
			to = StateFailed
			s.failureKind = FailureSpawn
		} else if alive {
			to = StateDegraded
			s.failureKind = FailureNone
		} else {
			to = StateFailed
			s.failureKind = FailureCrash
		}
		s.state = to
		s.publicURL = ""
		s.mu.Unlock()
		s.recordTransition(from, to, "")
		kind := asderrors.KindSpawn
		if alive {
			kind = asderrors.KindTransient
		}
		return asderrors.Wrapf(kind, s.ServiceID, err, "start tunnel session %s", s.ID)
	}

	s.mu.Lock()
	from := s.state
	s.pid = result.PID
	s.startedAt = time.Now()
	s.publicURL = capturedURL
	s.state = StateEstablished
	s.failureKind = FailureNone
	s.mu.Unlock()
	s.recordTransition(from, StateEstablished, capturedURL)
	return nil
}

// Run drives reconnect-with-backoff for a session that has already been
// established once: on transport failure it transitions to degraded,
// waits a bounded backoff, and restarts with the same arguments. The
// public URL is not guaranteed to survive a reconnect — if the gateway
// issues a different one, Run substitutes it and calls onURLChange so
// the caller re-evaluates env writes.
func (s *Session) Run(ctx context.Context, fetchCred func() (*credentials.Credential, error), sshBinary string, onURLChange func(newURL string)) {
	backoff := minBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cred, err := fetchCred()
		if err != nil || cred == nil {
			s.mu.Lock()
			from := s.state
			s.state = StateFailed
			s.failureKind = FailureCredentialMissing
			s.publicURL = ""
			s.mu.Unlock()
			s.recordTransition(from, StateFailed, "")
			return
		}

		prevURL := s.PublicURL()
		if err := s.Ensure(ctx, cred, sshBinary); err != nil {
			if s.State() == StateFailed {
				return
			}
			log.Warn().Err(err).Str("session", s.ID).Dur("backoff", backoff).Msg("tunnel session degraded, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
			s.mu.Lock()
			s.reconnectCount++
			s.mu.Unlock()
			continue
		}

		backoff = minBackoff
		if newURL := s.PublicURL(); newURL != prevURL && onURLChange != nil {
			onURLChange(newURL)
		}

		// Established; block until the process exits or context is done,
		// then loop to reconnect.
		if err := supervisor.WaitExit(ctx, s.pid); err != nil {
			log.Debug().Err(err).Str("session", s.ID).Msg("tunnel process wait ended")
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.setState(StateDegraded)
	}
}

// Supervise spawns Run's reconnect-with-backoff loop in the background
// exactly once for this session's lifetime; later calls (e.g. from a
// subsequent reconcile pass that finds the session already in Deps.Sessions)
// are no-ops, so a session is supervised by a single goroutine for as long
// as the owning process lives.
func (s *Session) Supervise(ctx context.Context, fetchCred func() (*credentials.Credential, error), sshBinary string, onURLChange func(newURL string)) {
	s.mu.Lock()
	if s.supervising {
		s.mu.Unlock()
		return
	}
	s.supervising = true
	s.mu.Unlock()
	go s.Run(ctx, fetchCred, sshBinary, onURLChange)
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// Stop terminates the session's process group, drops its PID file, and
// clears publicUrl and the session id from the caller's perspective
// (spec §3 invariant: a publicUrl is cleared when the session leaves
// established).
func (s *Session) Stop() error {
	pidFile := s.paths.TunnelPIDFile(s.ID)
	err := supervisor.Stop(pidFile, true, 3*time.Second)
	s.mu.Lock()
	from := s.state
	s.state = StateStopped
	s.publicURL = ""
	s.mu.Unlock()
	s.recordTransition(from, StateStopped, "")
	return err
}

