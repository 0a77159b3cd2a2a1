// Package gomeeterr defines the coarse-to-fine error kinds of spec §7:
// ProtocolError, TransportError, IceError, StateError, and RemoteError
// (package stanza's Error already implements the RFC 6120 shape;
// RemoteError here just tags it as "this arrived on an IQ a caller was
// awaiting"). ParseError is not defined or re-exported here: it is
// xmlnode.ParseError, since the element model already owns that concept.
//
// Each kind implements error, and every kind except StateError (which
// wraps no cause) implements Unwrap, so callers can errors.As into the
// specific kind they care about while still getting a readable chain via
// Error(), matching the teacher's fmt.Errorf("xmpp: ...: %w", err)
// wrapping convention throughout session.go.
package gomeeterr

import "fmt"

// ProtocolError reports valid XML that is semantically wrong: a focus
// IQ with ready=false, a missing opus payload, an unsupported DTLS hash,
// an invalid SSRC owner.
type ProtocolError struct {
	Op     string // the operation that detected the problem, e.g. "session-initiate"
	Reason string
	Err    error // optional underlying cause
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gomeet: protocol error in %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("gomeet: protocol error in %s: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError reports a WebSocket closed mid-handshake, a dial
// failure, or a TLS failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gomeet: transport error in %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IceError reports ICE candidate gathering failure or the absence of any
// usable candidate.
type IceError struct {
	Op  string
	Err error
}

func (e *IceError) Error() string {
	return fmt.Sprintf("gomeet: ice error in %s: %v", e.Op, e.Err)
}

func (e *IceError) Unwrap() error { return e.Err }

// StateError reports an operation invalid in the caller's current state:
// connect() called twice, an operation against a non-existent Jingle
// session.
type StateError struct {
	Op      string
	Current string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("gomeet: invalid operation %q in state %s", e.Op, e.Current)
}

// RemoteError wraps a stanza-level error (RFC 6120 §8.3) that arrived on
// an IQ a caller was actively awaiting, as opposed to an unsolicited
// error that is merely logged (spec §7 policy).
type RemoteError struct {
	Err error // always a *stanza.Error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gomeet: remote error: %v", e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
