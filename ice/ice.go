// Package ice defines the native ICE agent contract of spec §6 as a Go
// interface, and an adapter onto github.com/pion/ice/v4, the pack's own
// ICE implementation (used internally by pion/webrtc).
//
// The session layer (package jinglesession) talks only to the Agent
// interface; this keeps the Jingle-to-ICE wiring testable with a fake
// Agent and isolates the pion/ice/v4 API surface to pion.go.
package ice

import (
	"context"
	"crypto/tls"
)

// Candidate is one local or remote ICE-UDP candidate, the wire shape
// spec §6 specifies: "(component, foundation, ip, port, priority,
// protocol=udp, type, rel-addr?, rel-port?)".
type Candidate struct {
	Component  int
	Foundation string
	IP         string
	Port       int
	Priority   uint32
	Protocol   string // always "udp" per spec §6
	Type       string // host, prflx, srflx, relay
	RelAddr    string
	RelPort    int
}

// Credentials is an ICE ufrag/pwd pair.
type Credentials struct {
	Ufrag string
	Pwd   string
}

// RelayInfo configures a TURN relay for one component (spec §6
// "set-relay-info (per component)").
type RelayInfo struct {
	Component int
	Host      string
	Port      int
	Username  string
	Password  string
}

// Agent is the native ICE agent contract spec §6 requires: add a stream,
// configure STUN/TURN, install remote credentials/candidates, gather
// local candidates non-blocking with a completion signal, and read back
// local credentials/candidates.
type Agent interface {
	// AddStream adds a single-component stream and returns its stream ID
	// (spec §6 "add-stream (returns stream-id)"). This module always
	// requests exactly one component (spec §4.F "one component").
	AddStream(ctx context.Context) (streamID string, err error)

	SetSTUNServer(host string, port int)
	SetRelayInfo(info RelayInfo)

	// AttachRecv installs the callback the agent delivers received UDP
	// datagrams to, for the given component.
	AttachRecv(component int, cb func(data []byte))

	SetRemoteCredentials(creds Credentials) error
	SetRemoteCandidates(candidates []Candidate) error

	// GatherCandidates starts non-blocking candidate gathering; done is
	// invoked exactly once, with a nil error on success (spec §6
	// "gather-candidates (non-blocking; gathering-done signal)").
	GatherCandidates(ctx context.Context, done func(err error)) error

	LocalCredentials() (Credentials, error)
	LocalCandidates() []Candidate

	// Handshake drives the DTLS-SRTP handshake of spec §4.F ("establishes
	// ICE-UDP + DTLS-SRTP connectivity") once the ICE connection comes up,
	// using cert as the local identity. Spec §4.F fixes the accepted
	// role as "active" (we always initiate, since this module is always
	// the Jingle responder per spec §1's non-goal "does not offer a
	// publish-side Jingle initiator"), so Handshake always dials as a
	// DTLS client over the connected ICE candidate pair. result is
	// invoked exactly once: on success with the exported SRTP keying
	// material (RFC 5764) and the peer's certificate (for the warn-only
	// fingerprint comparison spec §9 describes); on failure with a
	// non-nil error. Non-handshake datagrams on the same candidate
	// (encrypted RTP/RTCP) continue to reach the AttachRecv callback.
	Handshake(ctx context.Context, cert tls.Certificate, result func(HandshakeResult, error)) error

	Close() error
}

// HandshakeResult carries what the embedder's media pipeline needs once
// the DTLS-SRTP handshake completes: the keying material to derive SRTP
// session keys, and the remote certificate's fingerprint so the caller
// can log (not enforce — spec §9 open question) a mismatch against what
// Jingle advertised.
type HandshakeResult struct {
	KeyingMaterial    []byte
	SRTPProfile       string
	RemoteFingerprint string // colon-separated uppercase hex, sha-256
}
