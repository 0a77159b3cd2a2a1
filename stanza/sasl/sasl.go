// Package sasl implements the SASL step of the connection FSM (spec
// §4.D): it wraps mellium.im/sasl — the same SASL implementation the
// teacher's echobot example negotiates with (mellium.im/xmpp's
// xmpp.SASL(...) stream feature) — to drive the chosen mechanism and
// renders the resulting <auth/> element.
package sasl

import (
	"encoding/base64"
	"fmt"

	"mellium.im/sasl"

	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/xmlnode"
)

// Mechanism identifies one of the three mechanisms the connection FSM
// supports (spec §4.D: "mechanism chosen from {Anonymous, Plain
// (user\0user\0pass), JWT (Anonymous + token in URL query)}").
type Mechanism int

const (
	Anonymous Mechanism = iota
	Plain
	JWT
)

// Auth builds the initial <auth/> stanza for mechanism m. Plain requires a
// non-empty user/pass; JWT behaves identically to Anonymous at the SASL
// layer (the token travels in the WebSocket URL query string per spec §6,
// not in the SASL exchange) but is kept as a distinct Mechanism so callers
// can select it explicitly from configuration.
func Auth(m Mechanism, user, pass string) (*xmlnode.Element, error) {
	switch m {
	case Anonymous, JWT:
		el := xmlnode.New(ns.SASL, "auth")
		el.SetAttr("mechanism", "ANONYMOUS")
		return el, nil
	case Plain:
		// mellium's callback order is (username, password, identity);
		// PLAIN sends identity\0username\0password.
		client := sasl.NewClient(sasl.Plain, sasl.Credentials(func() ([]byte, []byte, []byte) {
			return []byte(user), []byte(pass), []byte(user)
		}))
		_, resp, err := client.Step(nil)
		if err != nil {
			return nil, fmt.Errorf("sasl: building PLAIN response: %w", err)
		}
		el := xmlnode.New(ns.SASL, "auth")
		el.SetAttr("mechanism", "PLAIN")
		el.AppendText(base64.StdEncoding.EncodeToString(resp))
		return el, nil
	default:
		return nil, fmt.Errorf("sasl: unknown mechanism %d", m)
	}
}

// IsSuccess reports whether e is a <success/> element in the SASL
// namespace (spec §4.D "Authenticating: expect <success/>").
func IsSuccess(e *xmlnode.Element) bool {
	return e.Is(ns.SASL, "success")
}

// IsFailure reports whether e is a <failure/> element in the SASL
// namespace, and if so returns the defined-condition child's local name.
func IsFailure(e *xmlnode.Element) (string, bool) {
	if !e.Is(ns.SASL, "failure") {
		return "", false
	}
	for _, c := range e.Children {
		if !c.IsText() {
			return c.Name.Local, true
		}
	}
	return "unknown-condition", true
}
