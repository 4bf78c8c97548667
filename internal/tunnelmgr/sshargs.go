package tunnelmgr

import (
	"fmt"

	"github.com/kfsoftware/asd/internal/credentials"
	"github.com/kfsoftware/asd/internal/supervisor"
)

// SSHArgsInput carries the resolved inputs the argv builder needs (spec
// §4.5): authenticate with the credential (password/token over SSH
// password auth, or a private key), disable strict host-key checking
// for ephemeral credentials, and forward either an HTTP subdomain or a
// server-assigned TCP port to the gateway.
type SSHArgsInput struct {
	Credential credentials.Credential
	Subdomain  string
	LocalDial  string
	Protocol   string // "http" | "tcp"
}

// BuildSSHArgs constructs the argv for the ssh binary implementing the
// reverse-forward described in spec §4.5. HTTP services forward
// subdomain:80:localhost:<port>; TCP services forward :0:localhost:<port>
// and let the gateway assign the public port.
func BuildSSHArgs(in SSHArgsInput) []string {
	forward := fmt.Sprintf(":0:%s", in.LocalDial)
	if in.Protocol == "" {
		in.Protocol = "http"
	}
	if in.Protocol == "http" {
		subdomain := in.Subdomain
		if subdomain == "" {
			subdomain = "0"
		}
		forward = fmt.Sprintf("%s:80:%s", subdomain, in.LocalDial)
	}

	args := []string{
		"-R", forward,
		"-o", "ServerAliveInterval=15",
		"-o", "ServerAliveCountMax=3",
		"-o", "ExitOnForwardFailure=yes",
	}

	if in.Credential.Kind == credentials.KindEphemeral {
		args = append(args,
			"-o", "StrictHostKeyChecking=no",
			"-o", "UserKnownHostsFile=/dev/null",
		)
	}

	switch in.Credential.Kind {
	case credentials.KindKey:
		args = append(args, "-i", in.Credential.SecretOrKeyRef)
	default:
		// password/token auth: the password is supplied out-of-band via
		// SSH_ASKPASS or an equivalent env-driven helper, never as argv,
		// so it never shows up in a process listing.
		args = append(args, "-o", "PreferredAuthentications=password,keyboard-interactive")
	}

	args = append(args, "-N",
		fmt.Sprintf("%s@%s", in.Credential.ClientID, in.Credential.Host),
		"-p", fmt.Sprintf("%d", in.Credential.Port),
	)
	return args
}

// DaemonSpecFor adapts a Session and resolved argv into the supervisor's
// DaemonSpec, wiring log-regex readiness against the gateway's "assigned"
// transcript line (spec §4.3, §4.5). capturedURL receives the first
// matched public URL once the supervisor's readiness wait succeeds.
func DaemonSpecFor(s *Session, sshBinary string, argv []string, cred *credentials.Credential, capturedURL *string) supervisor.DaemonSpec {
	logFile := s.paths.TunnelLogFile(s.ID)
	return supervisor.DaemonSpec{
		Name:       "tunnel-" + s.ID,
		BinaryPath: sshBinary,
		Argv:       argv,
		PIDFile:    s.paths.TunnelPIDFile(s.ID),
		LogFile:    logFile,
		Budget:     s.Budget,
		Readiness: readinessSpecFor(logFile, capturedURL),
	}
}
