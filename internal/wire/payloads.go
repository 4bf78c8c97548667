package wire

// RouteApplyRequest asks a companion process to apply a desired proxy
// route set over the admin channel rather than the HTTP admin API
// (spec §11.1's "bidirectional calls the HTTP admin surface doesn't
// cover").
type RouteApplyRequest struct {
	Routes []byte // caller-defined encoding of the desired route set
}

type RouteApplyReply struct {
	Applied bool
	Error   string
}

// HealthPing/HealthPong are the admin-channel equivalent of a TCP
// readiness probe, for companions with no HTTP surface of their own.
type HealthPing struct{ Nonce int64 }

type HealthPong struct{ Nonce int64 }

// StatusQuery asks a companion (most commonly a tunnel-session helper)
// for its current state without re-parsing its log file.
type StatusQuery struct{ SessionID string }

type StatusReply struct {
	SessionID string
	State     string
	PublicURL string
}

// LogTailRequest asks a companion to start streaming its log lines over
// the same multiplexed connection as a sequence of LogLine envelopes.
type LogTailRequest struct {
	SessionID string
	FromByte  int64
}

type LogLine struct {
	SessionID string
	Line      string
}

// ErrorReply carries a failure that occurred processing the prior
// envelope on this stream.
type ErrorReply struct{ Message string }
