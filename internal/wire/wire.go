// Package wire implements the length-prefixed message envelope used on
// the local admin control-plane (internal/localadmin): a little-endian
// int64 byte count followed by a gob-encoded payload. Framing is
// grounded in the teacher's pkg/messages/utils.go; the codec is gob
// rather than protobuf because every peer on this channel is a process
// ASD itself spawned, never a separate build or language (spec §11.2).
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"
)

// Kind tags which Envelope.Payload variant follows, so a reader can
// gob-decode into the right concrete type without a type switch over
// interface{}.
type Kind string

const (
	KindRouteApply   Kind = "route-apply"
	KindHealthPing   Kind = "health-ping"
	KindHealthPong   Kind = "health-pong"
	KindStatusQuery  Kind = "status-query"
	KindStatusReply  Kind = "status-reply"
	KindLogTail      Kind = "log-tail"
	KindError        Kind = "error"
)

// Envelope is the single message type ever written to the wire; Payload
// is itself gob-encoded bytes so callers can register their own payload
// types without this package knowing about them.
type Envelope struct {
	Kind    Kind
	Payload []byte
}

// Encode gob-encodes payload into an Envelope of the given kind.
func Encode(kind Kind, payload interface{}) (Envelope, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return Envelope{}, fmt.Errorf("wire: encode %s payload: %w", kind, err)
	}
	return Envelope{Kind: kind, Payload: buf.Bytes()}, nil
}

// Decode gob-decodes an Envelope's Payload into out, which must be a
// pointer to the type the sender encoded for this Kind.
func Decode(env Envelope, out interface{}) error {
	dec := gob.NewDecoder(bytes.NewReader(env.Payload))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("wire: decode %s payload: %w", env.Kind, err)
	}
	return nil
}

// WriteMsg writes one Envelope to c: an 8-byte little-endian length
// prefix followed by the gob-encoded Envelope itself, matching the
// teacher's WriteMsg framing in pkg/messages/utils.go.
func WriteMsg(c net.Conn, env Envelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("wire: encode envelope: %w", err)
	}
	if err := binary.Write(c, binary.LittleEndian, int64(buf.Len())); err != nil {
		return err
	}
	_, err := c.Write(buf.Bytes())
	return err
}

// ReadMsg reads one Envelope off c, blocking until the length prefix and
// the full payload have arrived.
func ReadMsg(c net.Conn) (Envelope, error) {
	var sz int64
	if err := binary.Read(c, binary.LittleEndian, &sz); err != nil {
		return Envelope{}, err
	}
	if sz < 0 || sz > maxEnvelopeSize {
		return Envelope{}, fmt.Errorf("wire: envelope size %d out of bounds", sz)
	}

	buffer := make([]byte, sz)
	if _, err := io.ReadFull(c, buffer); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(buffer)).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}

// maxEnvelopeSize bounds a single envelope so a corrupt or malicious
// peer on the local admin socket can't make ReadMsg allocate unbounded
// memory from a forged length prefix.
const maxEnvelopeSize = 64 << 20
