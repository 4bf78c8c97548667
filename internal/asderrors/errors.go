// Package asderrors defines the structured failure kinds the core distinguishes
// between, so the reconciler can aggregate failures without ever swallowing
// an unknown one.
package asderrors

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Kind tags a failure with the category the reconciler needs to decide
// whether to retry, warn, or abort.
type Kind string

const (
	KindConfig        Kind = "config"
	KindTransient     Kind = "transient"
	KindSpawn         Kind = "spawn"
	KindProtocol      Kind = "protocol"
	KindMisconfig     Kind = "misconfig"
	KindFatal         Kind = "fatal"
	KindUnknown       Kind = "unknown"
)

// Error wraps an underlying error with a Kind and the service id it
// concerns, if any.
type Error struct {
	Kind      Kind
	ServiceID string
	cause     error
}

func (e *Error) Error() string {
	if e.ServiceID != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.ServiceID, e.cause)
	}
	return fmt.Sprintf("[%s] %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New wraps err with the given kind, attaching a stack trace the way the
// teacher's pkg/tunnel and pkg/client packages do via github.com/pkg/errors.
func New(kind Kind, serviceID string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, ServiceID: serviceID, cause: errors.WithStack(err)}
}

// Wrapf formats a new error and wraps it with the given kind.
func Wrapf(kind Kind, serviceID string, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, ServiceID: serviceID, cause: errors.Wrapf(err, format, args...)}
}

// KindOf extracts the Kind of err, defaulting to KindUnknown for errors
// the core did not originate itself. Callers must never assume an error
// without a Kind is safe to ignore.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Aggregate collects per-service failures from a reconcile pass in the
// order they were added, each carrying its service id, so CLI output can
// prefix each with a kind glyph.
type Aggregate struct {
	failures []*Error
}

func NewAggregate() *Aggregate { return &Aggregate{} }

func (a *Aggregate) Add(err error) {
	if err == nil {
		return
	}
	var e *Error
	if !errors.As(err, &e) {
		e = New(KindUnknown, "", err)
	}
	a.failures = append(a.failures, e)
}

func (a *Aggregate) Empty() bool { return len(a.failures) == 0 }

func (a *Aggregate) Failures() []*Error { return a.failures }

// MarshalJSON renders the aggregate as a plain array of {kind, serviceId,
// message} objects, so `--json` output carries failures without exposing
// the unexported slice field.
func (a *Aggregate) MarshalJSON() ([]byte, error) {
	type jsonFailure struct {
		Kind      Kind   `json:"kind"`
		ServiceID string `json:"serviceId,omitempty"`
		Message   string `json:"message"`
	}
	out := make([]jsonFailure, 0, len(a.failures))
	for _, f := range a.failures {
		out = append(out, jsonFailure{Kind: f.Kind, ServiceID: f.ServiceID, Message: f.Error()})
	}
	return json.Marshal(out)
}

// Glyph returns the user-visible prefix for a Kind: ok/warn/error/info.
func Glyph(kind Kind) string {
	switch kind {
	case KindTransient, KindMisconfig:
		return "warn"
	case KindConfig, KindSpawn, KindProtocol, KindFatal:
		return "error"
	case "":
		return "ok"
	default:
		return "info"
	}
}
