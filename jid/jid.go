// Package jid implements XMPP addresses (JIDs) as used throughout the rest
// of this module.
//
// Unlike a conformant XMPP implementation this package does not apply
// nodeprep/resourceprep (RFC 7613 PRECIS profiles): comparison is a plain
// case-sensitive, component-wise comparison. That matches this module's
// scope — it never federates with arbitrary servers, only a single Jitsi
// deployment's Prosody-family XMPP service.
package jid

import (
	"errors"
	"strings"
)

// JID is an XMPP address. The Node is optional; the Domain is always
// present; the Resource is optional and, when absent, the JID is "bare".
type JID struct {
	Node     string
	Domain   string
	Resource string
}

// ErrInvalidJID is returned when a string cannot be parsed as a JID.
var ErrInvalidJID = errors.New("jid: invalid address")

// Parse splits s into its node, domain, and resource parts.
//
// A single '@' separates node from the rest; the last '/' in the
// remainder separates domain from resource (so the resource never
// contains '/', and any earlier '/' stays in the domain). Domain is
// required and must be non-empty.
func Parse(s string) (JID, error) {
	var node, domain, resource string

	rest := s
	if idx := strings.IndexByte(s, '@'); idx >= 0 {
		node = s[:idx]
		rest = s[idx+1:]
		if node == "" {
			return JID{}, ErrInvalidJID
		}
	}

	if idx := strings.LastIndexByte(rest, '/'); idx >= 0 {
		domain = rest[:idx]
		resource = rest[idx+1:]
	} else {
		domain = rest
	}

	if domain == "" {
		return JID{}, ErrInvalidJID
	}

	return JID{Node: node, Domain: domain, Resource: resource}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level constants, never for parsing untrusted input.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic("jid: MustParse: " + err.Error())
	}
	return j
}

// New builds a JID directly from its parts, applying the same validation
// as Parse (domain required).
func New(node, domain, resource string) (JID, error) {
	if domain == "" {
		return JID{}, ErrInvalidJID
	}
	return JID{Node: node, Domain: domain, Resource: resource}, nil
}

// Bare returns the JID with its resource stripped.
func (j JID) Bare() JID {
	j.Resource = ""
	return j
}

// WithResource returns a copy of j with its resource replaced.
func (j JID) WithResource(resource string) JID {
	j.Resource = resource
	return j
}

// IsFull reports whether the JID carries a resource part.
func (j JID) IsFull() bool {
	return j.Resource != ""
}

// IsZero reports whether j is the zero value (no domain set).
func (j JID) IsZero() bool {
	return j.Domain == ""
}

// Equal compares two JIDs component-wise, case-sensitively.
func (j JID) Equal(other JID) bool {
	return j.Node == other.Node && j.Domain == other.Domain && j.Resource == other.Resource
}

// String renders the JID back to its wire form: node@domain/resource,
// eliding the node and/or resource when absent.
func (j JID) String() string {
	var b strings.Builder
	if j.Node != "" {
		b.WriteString(j.Node)
		b.WriteByte('@')
	}
	b.WriteString(j.Domain)
	if j.Resource != "" {
		b.WriteByte('/')
		b.WriteString(j.Resource)
	}
	return b.String()
}

// JID has no XML marshalling methods of its own: package stanza reads and
// writes JID attributes as plain strings via Parse()/String(), which keeps
// this package free of a dependency on the stanza package.
