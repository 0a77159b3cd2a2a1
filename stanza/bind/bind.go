// Package bind implements resource binding (RFC 6120 §7), the step that
// turns the connection's bare JID into the full JID this session will use
// for the rest of its lifetime.
package bind

import (
	"fmt"

	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/stanza"
	"github.com/avstack/gomeet/xmlnode"
)

// Request builds the <iq type="set"><bind/></iq> the connection FSM sends
// once SASL succeeds (spec §4.D "Binding: ... send <iq set><bind></iq>").
// An empty resource lets the server assign one.
func Request(id string, resource string) *stanza.IQ {
	b := xmlnode.New(ns.Bind, "bind")
	if resource != "" {
		b.AppendChild(xmlnode.New("", "resource")).AppendText(resource)
	}
	return &stanza.IQ{ID: id, Type: stanza.Set, Payload: b}
}

// ParseResult extracts the bound full JID from a bind result IQ.
func ParseResult(iq *stanza.IQ) (jid.JID, error) {
	if iq.Type != stanza.Result {
		return jid.JID{}, fmt.Errorf("bind: expected result IQ, got %s", iq.Type)
	}
	if iq.Payload == nil || !iq.Payload.Is(ns.Bind, "bind") {
		return jid.JID{}, fmt.Errorf("bind: result IQ missing <bind/> payload")
	}
	jidEl, err := xmlnode.RequiredChild(iq.Payload, "", "jid")
	if err != nil {
		return jid.JID{}, err
	}
	return jid.Parse(jidEl.Text())
}
